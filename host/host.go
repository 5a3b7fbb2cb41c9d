package host

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/machinefabric/plughost-go/ipc"
	"github.com/machinefabric/plughost-go/plugin"
	"github.com/machinefabric/plughost-go/svc"
)

// Plugin is a connected plugin as the host sees it. *plugin.Bridge
// implements it.
type Plugin interface {
	Info() *plugin.Info
	Channel() *ipc.Channel
}

// Option configures a ServiceHost
type Option func(*ServiceHost)

// WithTimeout sets the per-request timeout for calls into plugins
func WithTimeout(d time.Duration) Option {
	return func(h *ServiceHost) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *ServiceHost) { h.logger = logger }
}

// WithRegistry shares an existing registry instead of creating one
func WithRegistry(r *svc.Registry) Option {
	return func(h *ServiceHost) { h.registry = r }
}

// WithCodec sets the codec used by host-local typed services
func WithCodec(codec ipc.Codec) Option {
	return func(h *ServiceHost) { h.codec = codec }
}

type wiring struct {
	info *plugin.Info
	comm *svc.Communicator
}

// ServiceHost joins every connected plugin to one shared Registry. Each
// service a plugin declares becomes a registry entry that forwards to the
// plugin, and every request a plugin sends is dispatched against the same
// registry.
type ServiceHost struct {
	registry *svc.Registry
	timeout  time.Duration
	codec    ipc.Codec
	logger   *slog.Logger

	mu     sync.Mutex
	wired  map[string]*wiring
	owners map[string]string // service name -> plugin id
}

// New creates a ServiceHost with an empty registry
func New(opts ...Option) *ServiceHost {
	h := &ServiceHost{
		timeout: svc.DefaultTimeout,
		codec:   ipc.JSON,
		logger:  slog.Default(),
		wired:   make(map[string]*wiring),
		owners:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.registry == nil {
		h.registry = svc.NewRegistry()
	}
	h.logger = h.logger.With("component", "host")
	return h
}

// Registry returns the shared registry
func (h *ServiceHost) Registry() *svc.Registry { return h.registry }

// Codec returns the codec used by host-local typed services
func (h *ServiceHost) Codec() ipc.Codec { return h.codec }

// Open registers a host-local service, callable by every plugin
func (h *ServiceHost) Open(name string, handler svc.Handler) {
	h.mu.Lock()
	delete(h.owners, name)
	h.mu.Unlock()
	h.registry.Open(name, handler)
}

// Dispatch calls a service by name, local or forwarded to a plugin
func (h *ServiceHost) Dispatch(ctx context.Context, name string, data ipc.Raw) (ipc.Raw, error) {
	return h.registry.Dispatch(ctx, name, data)
}

// Call encodes req with the host codec, dispatches it and decodes the result
func (h *ServiceHost) Call(ctx context.Context, name string, req, resp any) error {
	data, err := h.codec.Marshal(req)
	if err != nil {
		return err
	}
	out, err := h.registry.Dispatch(ctx, name, data)
	if err != nil || resp == nil {
		return err
	}
	return h.codec.Unmarshal(out, resp)
}

// Communicator returns the communicator wired to plugin id
func (h *ServiceHost) Communicator(id string) (*svc.Communicator, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.wired[id]
	if !ok {
		return nil, false
	}
	return w.comm, true
}

// Plugins returns the wired plugins sorted by id
func (h *ServiceHost) Plugins() []*plugin.Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*plugin.Info, 0, len(h.wired))
	for _, w := range h.wired {
		out = append(out, w.info)
	}
	slices.SortFunc(out, func(a, b *plugin.Info) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// OpenFromPlugin wires p into the host: every declared service is
// registered as a forwarding proxy, and requests from p are answered from
// the shared registry.
func (h *ServiceHost) OpenFromPlugin(p Plugin) error {
	if p == nil {
		return malformed("", "nil plugin")
	}
	info := p.Info()
	if info == nil {
		return malformed("", "missing plugin info")
	}
	if info.ID == "" {
		return malformed("", "empty plugin id")
	}
	channel := p.Channel()
	if channel == nil {
		return malformed(info.ID, "no channel")
	}
	for _, name := range info.Services {
		if name == "" {
			return malformed(info.ID, "empty service name")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.wired[info.ID]; exists {
		return &WiringError{Type: WiringErrorAlreadyWired, PluginID: info.ID}
	}

	logger := h.logger.With("plugin", info.ID)
	comm := svc.NewCommunicator(channel,
		svc.WithTimeout(h.timeout),
		svc.WithResponder(h.registry.Dispatch),
		svc.WithCommunicatorLogger(logger),
	)
	h.wired[info.ID] = &wiring{info: info, comm: comm}

	for _, name := range info.Services {
		if prev, ok := h.owners[name]; ok && prev != info.ID {
			logger.Warn("service already provided by another plugin, replacing", "service", name, "previous", prev)
		} else if !ok && h.registry.Has(name) {
			logger.Warn("plugin service replaces a host service", "service", name)
		}
		h.owners[name] = info.ID
		h.registry.Open(name, forward(comm, name))
	}

	logger.Info("plugin wired", "services", info.Services)
	return nil
}

// forward turns a local dispatch into a call on the plugin
func forward(comm *svc.Communicator, name string) svc.Handler {
	return func(ctx context.Context, data ipc.Raw) (ipc.Raw, error) {
		return comm.Send(ctx, name, data)
	}
}

// OpenFromPlugins wires every plugin in plugins, keyed by plugin id. A
// plugin that fails to wire does not stop the others; all failures are
// returned together.
func (h *ServiceHost) OpenFromPlugins(plugins map[string]Plugin) error {
	ids := make([]string, 0, len(plugins))
	for id := range plugins {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var errs []error
	for _, id := range ids {
		p := plugins[id]
		if p != nil && p.Info() != nil && p.Info().ID != id {
			errs = append(errs, &WiringError{Type: WiringErrorIDMismatch, PluginID: id, Reason: "info declares " + p.Info().ID})
			continue
		}
		if err := h.OpenFromPlugin(p); err != nil {
			h.logger.Error("failed to wire plugin", "plugin", id, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseFromPlugin unwires plugin id. Its services are removed unless
// another provider has replaced them since, and its communicator stops
// listening. Requests still pending on it run into their timeout.
func (h *ServiceHost) CloseFromPlugin(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.wired[id]
	if !ok {
		return &WiringError{Type: WiringErrorNotWired, PluginID: id}
	}
	delete(h.wired, id)
	w.comm.Detach()

	for _, name := range w.info.Services {
		if h.owners[name] != id {
			continue
		}
		delete(h.owners, name)
		h.registry.Close(name)
	}
	h.logger.Info("plugin unwired", "plugin", id)
	return nil
}
