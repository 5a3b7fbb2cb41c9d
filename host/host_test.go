package host

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/plughost-go/ipc"
	"github.com/machinefabric/plughost-go/plugin"
	"github.com/machinefabric/plughost-go/svc"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticPlugin is a Plugin with fixed info and channel
type staticPlugin struct {
	info    *plugin.Info
	channel *ipc.Channel
}

func (p staticPlugin) Info() *plugin.Info     { return p.info }
func (p staticPlugin) Channel() *ipc.Channel { return p.channel }

// inProcessPlugin connects a plugin.Runtime to a host-side Bridge over
// pipes. setup registers the plugin's services before it starts serving.
func inProcessPlugin(t *testing.T, info *plugin.Info, setup func(rt *plugin.Runtime)) (*plugin.Bridge, *plugin.Runtime) {
	t.Helper()
	hostRead, pluginWrite := io.Pipe()
	pluginRead, hostWrite := io.Pipe()

	rt, err := plugin.NewRuntime(
		plugin.WithStreams(pluginRead, pluginWrite),
		plugin.WithRuntimeCodec(ipc.JSON),
		plugin.WithRuntimeLogger(quietLogger()),
		plugin.WithRuntimeTimeout(2*time.Second),
	)
	require.NoError(t, err)
	if setup != nil {
		setup(rt)
	}
	rt.Start()

	b, err := plugin.Attach(info, hostRead, hostWrite, plugin.LaunchOptions{Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = b.Close()
		_ = pluginWrite.Close()
	})
	return b, rt
}

func squarePlugin(t *testing.T, id string) *plugin.Bridge {
	b, _ := inProcessPlugin(t, &plugin.Info{ID: id, Entry: "main", Services: []string{"square"}}, func(rt *plugin.Runtime) {
		rt.Register("square", svc.TypedHandler(ipc.JSON, func(ctx context.Context, n int) (int, error) {
			return n * n, nil
		}))
	})
	return b
}

func newTestHost(opts ...Option) *ServiceHost {
	return New(append([]Option{WithLogger(quietLogger()), WithTimeout(2 * time.Second)}, opts...)...)
}

// TEST301: a plugin's declared services become dispatchable on the host
func Test301_open_from_plugin_forwards(t *testing.T) {
	h := newTestHost()
	require.NoError(t, h.OpenFromPlugin(squarePlugin(t, "math")))

	assert.True(t, h.Registry().Has("square"))
	var out int
	require.NoError(t, h.Call(context.Background(), "square", 6, &out))
	assert.Equal(t, 36, out)

	comm, ok := h.Communicator("math")
	require.True(t, ok)
	assert.Equal(t, 0, comm.Pending())
}

// TEST302: requests from a plugin resolve against the shared registry
func Test302_plugin_requests_use_registry(t *testing.T) {
	h := newTestHost()
	h.Open("host.double", svc.TypedHandler(ipc.JSON, func(ctx context.Context, n int) (int, error) {
		return 2 * n, nil
	}))

	b, rt := inProcessPlugin(t, &plugin.Info{ID: "caller", Entry: "main"}, nil)
	require.NoError(t, h.OpenFromPlugin(b))

	var out int
	require.NoError(t, rt.Call(context.Background(), "host.double", 21, &out))
	assert.Equal(t, 42, out)

	_, err := rt.Send(context.Background(), "no.such.service", nil)
	assert.ErrorIs(t, err, svc.ErrServiceNotFound)
}

// TEST303: one plugin calls another through the host
func Test303_plugin_to_plugin_through_host(t *testing.T) {
	h := newTestHost()
	require.NoError(t, h.OpenFromPlugin(squarePlugin(t, "math")))
	b, rt := inProcessPlugin(t, &plugin.Info{ID: "client", Entry: "main"}, nil)
	require.NoError(t, h.OpenFromPlugin(b))

	var out int
	require.NoError(t, rt.Call(context.Background(), "square", 12, &out))
	assert.Equal(t, 144, out)
}

// TEST304: a malformed plugin in a batch does not stop the valid one
func Test304_open_from_plugins_fail_isolated(t *testing.T) {
	h := newTestHost()
	good := squarePlugin(t, "good")

	err := h.OpenFromPlugins(map[string]Plugin{
		"bad":  staticPlugin{info: &plugin.Info{ID: "bad", Services: []string{"broken"}}},
		"good": good,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, &WiringError{Type: WiringErrorMalformed, PluginID: "bad"})

	var out int
	require.NoError(t, h.Call(context.Background(), "square", 5, &out))
	assert.Equal(t, 25, out)
	assert.False(t, h.Registry().Has("broken"))
	_, wired := h.Communicator("bad")
	assert.False(t, wired)
}

// TEST305: every kind of malformed plugin is rejected without side effects
func Test305_malformed_plugins(t *testing.T) {
	h := newTestHost()
	ch := ipc.NewChannel(nil, io.Discard, ipc.WithLogger(quietLogger()))

	cases := map[string]Plugin{
		"nil plugin":    nil,
		"nil info":      staticPlugin{channel: ch},
		"empty id":      staticPlugin{info: &plugin.Info{}, channel: ch},
		"no channel":    staticPlugin{info: &plugin.Info{ID: "x"}},
		"empty service": staticPlugin{info: &plugin.Info{ID: "x", Services: []string{"ok", ""}}, channel: ch},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			err := h.OpenFromPlugin(p)
			assert.ErrorIs(t, err, ErrMalformedPlugin)
		})
	}
	assert.Empty(t, h.Plugins())
	assert.Empty(t, h.Registry().Names())
}

// TEST306: ids must be unique and match the map key
func Test306_duplicate_and_mismatched_ids(t *testing.T) {
	h := newTestHost()
	b := squarePlugin(t, "math")
	require.NoError(t, h.OpenFromPlugin(b))
	assert.ErrorIs(t, h.OpenFromPlugin(b), ErrAlreadyWired)

	err := h.OpenFromPlugins(map[string]Plugin{"alias": squarePlugin(t, "other")})
	assert.ErrorIs(t, err, ErrIDMismatch)
	_, wired := h.Communicator("other")
	assert.False(t, wired)
}

// TEST307: CloseFromPlugin removes the plugin's services and listener
func Test307_close_from_plugin(t *testing.T) {
	h := newTestHost()
	b := squarePlugin(t, "math")
	require.NoError(t, h.OpenFromPlugin(b))

	require.NoError(t, h.CloseFromPlugin("math"))
	assert.False(t, h.Registry().Has("square"))
	_, err := h.Dispatch(context.Background(), "square", ipc.Raw("3"))
	assert.ErrorIs(t, err, svc.ErrServiceNotFound)

	assert.ErrorIs(t, h.CloseFromPlugin("math"), ErrNotWired)

	// the plugin can be wired again afterwards
	require.NoError(t, h.OpenFromPlugin(b))
	var out int
	require.NoError(t, h.Call(context.Background(), "square", 3, &out))
	assert.Equal(t, 9, out)
}

// TEST308: closing a plugin leaves services another plugin took over
func Test308_close_keeps_replaced_services(t *testing.T) {
	h := newTestHost()
	require.NoError(t, h.OpenFromPlugin(squarePlugin(t, "first")))
	require.NoError(t, h.OpenFromPlugin(squarePlugin(t, "second")))

	require.NoError(t, h.CloseFromPlugin("first"))
	var out int
	require.NoError(t, h.Call(context.Background(), "square", 4, &out))
	assert.Equal(t, 16, out)
}

// TEST309: a plugin that never answers makes host calls time out
func Test309_forward_timeout(t *testing.T) {
	h := newTestHost(WithTimeout(100 * time.Millisecond))
	// the sink swallows requests and nothing ever answers
	silent := staticPlugin{
		info:    &plugin.Info{ID: "silent", Services: []string{"slow"}},
		channel: ipc.NewChannel(nil, io.Discard, ipc.WithLogger(quietLogger())),
	}
	require.NoError(t, h.OpenFromPlugin(silent))

	start := time.Now()
	_, err := h.Dispatch(context.Background(), "slow", nil)
	assert.ErrorIs(t, err, svc.ErrRequestTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	comm, _ := h.Communicator("silent")
	assert.Equal(t, 0, comm.Pending())
}

// TEST310: built-in services list plugins and answer pings
func Test310_builtins(t *testing.T) {
	h := newTestHost()
	RegisterBuiltins(h)
	require.NoError(t, h.OpenFromPlugin(squarePlugin(t, "math")))
	b, rt := inProcessPlugin(t, &plugin.Info{ID: "client", Entry: "main"}, nil)
	require.NoError(t, h.OpenFromPlugin(b))

	var pong string
	require.NoError(t, rt.Call(context.Background(), ServicePing, nil, &pong))
	assert.Equal(t, "pong", pong)

	var listing []PluginSummary
	require.NoError(t, rt.Call(context.Background(), ServicePlugins, nil, &listing))
	assert.Equal(t, []PluginSummary{
		{ID: "client", Services: nil},
		{ID: "math", Services: []string{"square"}},
	}, listing)
}

// TEST311: a plugin service replaces a host service with the same name
func Test311_plugin_replaces_host_service(t *testing.T) {
	h := newTestHost()
	h.Open("square", func(ctx context.Context, data ipc.Raw) (ipc.Raw, error) {
		return nil, errors.New("host version")
	})
	require.NoError(t, h.OpenFromPlugin(squarePlugin(t, "math")))

	var out int
	require.NoError(t, h.Call(context.Background(), "square", 7, &out))
	assert.Equal(t, 49, out)
}
