package svc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/plughost-go/ipc"
)

func constHandler(out string) Handler {
	return func(ctx context.Context, data ipc.Raw) (ipc.Raw, error) {
		return ipc.Raw(out), nil
	}
}

func TestRegistryOpenDispatch(t *testing.T) {
	r := NewRegistry()
	r.Open("echo", func(ctx context.Context, data ipc.Raw) (ipc.Raw, error) {
		return data, nil
	})

	out, err := r.Dispatch(context.Background(), "echo", ipc.Raw(`"hi"`))
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, string(out))
	assert.True(t, r.Has("echo"))
}

func TestRegistryOpenReplaces(t *testing.T) {
	r := NewRegistry()
	r.Open("svc", constHandler("1"))
	r.Open("svc", constHandler("2"))

	out, err := r.Dispatch(context.Background(), "svc", nil)
	require.NoError(t, err)
	assert.Equal(t, "2", string(out))
	assert.Equal(t, []string{"svc"}, r.Names())
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry()
	r.Open("svc", constHandler("1"))
	r.Close("svc")
	r.Close("svc")
	r.Close("never-opened")

	assert.False(t, r.Has("svc"))
	_, err := r.Dispatch(context.Background(), "svc", nil)
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestRegistryDispatchUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), "no.such.service", ipc.Raw("1"))

	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, ErrorTypeServiceNotFound, serviceErr.Type)
	assert.Equal(t, "no.such.service", serviceErr.Service)
	assert.False(t, serviceErr.Remote)
	assert.NotErrorIs(t, err, ErrServiceNotHandled)
}

func TestRegistryPropagatesHandlerError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	r.Open("fail", func(ctx context.Context, data ipc.Raw) (ipc.Raw, error) {
		return nil, boom
	})

	_, err := r.Dispatch(context.Background(), "fail", nil)
	assert.ErrorIs(t, err, boom)
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"b", "c", "a"} {
		r.Open(name, constHandler("0"))
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
}

func TestTypedHandler(t *testing.T) {
	type req struct {
		N int `json:"n"`
	}
	h := TypedHandler(ipc.JSON, func(ctx context.Context, r req) (int, error) {
		return r.N * r.N, nil
	})

	out, err := h(context.Background(), ipc.Raw(`{"n":7}`))
	require.NoError(t, err)
	assert.Equal(t, "49", string(out))

	out, err = h(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "0", string(out))

	_, err = h(context.Background(), ipc.Raw(`"not an object"`))
	assert.Error(t, err)
}

func TestServiceErrorMessages(t *testing.T) {
	assert.Contains(t, newServiceNotFound("a").Error(), "service not found")
	assert.Contains(t, newRequestTimeout("a").Error(), "timed out")
	assert.Contains(t, newRemoteError("a", CodeServiceNotHandled).Error(), "(remote)")
	assert.Contains(t, newRemoteError("a", ErrorCode("QUOTA")).Error(), "[QUOTA]")

	assert.ErrorIs(t, newRemoteError("a", CodeServiceNotFound), ErrServiceNotFound)
	assert.ErrorIs(t, newRemoteError("a", ErrorCode("QUOTA")), ErrServiceNotHandled)
	assert.ErrorIs(t, newRequestTimeout("a"), &ServiceError{Type: ErrorTypeRequestTimeout, Service: "a"})
	assert.NotErrorIs(t, newRequestTimeout("a"), &ServiceError{Type: ErrorTypeRequestTimeout, Service: "b"})
}
