package host

import (
	"context"

	"github.com/machinefabric/plughost-go/svc"
)

// Built-in service names
const (
	ServicePlugins = "host.plugins"
	ServicePing    = "host.ping"
)

// PluginSummary is one entry of the host.plugins listing
type PluginSummary struct {
	ID       string   `json:"id" cbor:"id"`
	Services []string `json:"services" cbor:"services"`
}

// RegisterBuiltins opens the services every host provides to its plugins:
// host.ping answers "pong" and host.plugins lists the wired plugins.
func RegisterBuiltins(h *ServiceHost) {
	h.Open(ServicePing, svc.TypedHandler(h.codec, func(ctx context.Context, _ any) (string, error) {
		return "pong", nil
	}))
	h.Open(ServicePlugins, svc.TypedHandler(h.codec, func(ctx context.Context, _ any) ([]PluginSummary, error) {
		infos := h.Plugins()
		out := make([]PluginSummary, 0, len(infos))
		for _, info := range infos {
			out = append(out, PluginSummary{ID: info.ID, Services: info.Services})
		}
		return out, nil
	}))
}
