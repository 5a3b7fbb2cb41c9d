package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/plughost-go/ipc"
	"github.com/machinefabric/plughost-go/plugin"
	"github.com/machinefabric/plughost-go/svc"
)

func TestSquareServices(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	hostRead, pluginWrite := io.Pipe()
	pluginRead, hostWrite := io.Pipe()

	rt, err := plugin.NewRuntime(
		plugin.WithStreams(pluginRead, pluginWrite),
		plugin.WithRuntimeCodec(ipc.JSON),
		plugin.WithRuntimeLogger(quiet),
	)
	require.NoError(t, err)
	register(rt)
	rt.Start()

	// the host answers "square" from the same registry that forwards to the plugin
	hostCh := ipc.NewChannel(hostRead, hostWrite, ipc.WithLogger(quiet))
	registry := svc.NewRegistry()
	hostComm := svc.NewCommunicator(hostCh,
		svc.WithResponder(registry.Dispatch),
		svc.WithCommunicatorLogger(quiet),
	)
	registry.Open("square", func(ctx context.Context, data ipc.Raw) (ipc.Raw, error) {
		return hostComm.Send(ctx, "square", data)
	})
	hostCh.Start()
	t.Cleanup(func() {
		_ = hostWrite.Close()
		_ = pluginWrite.Close()
	})

	var sq float64
	require.NoError(t, hostComm.Call(context.Background(), "square", 1.5, &sq))
	assert.Equal(t, 2.25, sq)

	var sum float64
	require.NoError(t, hostComm.Call(context.Background(), "square.sum", []float64{1, 2, 3}, &sum))
	assert.Equal(t, 14.0, sum)
}
