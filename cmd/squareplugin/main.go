// squareplugin is a minimal plugin: it serves "square" and "square.sum",
// the latter summing squares computed through the host so every call
// exercises the round trip back into the shared registry.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/machinefabric/plughost-go/plugin"
	"github.com/machinefabric/plughost-go/svc"
)

// EventReady is emitted once the plugin serves requests
const EventReady = 2

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "squareplugin: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rt, err := plugin.NewRuntime()
	if err != nil {
		return err
	}
	register(rt)

	rt.Start()
	if err := rt.Emit(EventReady, map[string]string{"plugin": rt.ID()}); err != nil {
		return err
	}
	return rt.Run()
}

func register(rt *plugin.Runtime) {
	codec := rt.Channel().Codec()

	rt.Register("square", svc.TypedHandler(codec, func(ctx context.Context, n float64) (float64, error) {
		return n * n, nil
	}))

	rt.Register("square.sum", svc.TypedHandler(codec, func(ctx context.Context, ns []float64) (float64, error) {
		var sum float64
		for _, n := range ns {
			var sq float64
			if err := rt.Call(ctx, "square", n, &sq); err != nil {
				return 0, fmt.Errorf("square %v: %w", n, err)
			}
			sum += sq
		}
		return sum, nil
	}))
}
