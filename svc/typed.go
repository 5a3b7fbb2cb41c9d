package svc

import (
	"context"
	"fmt"

	"github.com/machinefabric/plughost-go/ipc"
)

// TypedHandler adapts a function over decoded values to a Handler.
// A request that does not decode fails the call.
func TypedHandler[Req, Resp any](codec ipc.Codec, fn func(ctx context.Context, req Req) (Resp, error)) Handler {
	return func(ctx context.Context, data ipc.Raw) (ipc.Raw, error) {
		var req Req
		if !data.IsNull() {
			if err := codec.Unmarshal(data, &req); err != nil {
				return nil, fmt.Errorf("decode request: %w", err)
			}
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		out, err := codec.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("encode response: %w", err)
		}
		return out, nil
	}
}
