package svc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/machinefabric/plughost-go/ipc"
)

// DefaultTimeout bounds how long Send waits for a response
const DefaultTimeout = 2 * time.Second

// Transport is the part of an ipc.Channel the protocol needs
type Transport interface {
	Send(msg ipc.Message) (int, error)
	Codec() ipc.Codec
	AddListener(fn ipc.Listener) ipc.ListenerID
	RemoveListener(id ipc.ListenerID)
}

// Responder answers service requests arriving from the peer
type Responder func(ctx context.Context, service string, data ipc.Raw) (ipc.Raw, error)

// result settles a pending request
type result struct {
	data ipc.Raw
	err  error
}

// pendingRequest tracks an outbound request awaiting its response
type pendingRequest struct {
	correlationID string
	service       string
	result        chan result // buffered, receives at most one value
	createdAt     time.Time
}

// CommunicatorOption configures a Communicator
type CommunicatorOption func(*Communicator)

// WithTimeout sets the per-request response window
func WithTimeout(d time.Duration) CommunicatorOption {
	return func(c *Communicator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithResponder sets the inbound responder at construction time
func WithResponder(r Responder) CommunicatorOption {
	return func(c *Communicator) { c.responder = r }
}

// WithCommunicatorLogger sets the logger
func WithCommunicatorLogger(logger *slog.Logger) CommunicatorOption {
	return func(c *Communicator) { c.logger = logger }
}

// Communicator implements the symmetric request/response protocol over one
// transport. Either side may call services of the other; outbound calls
// are correlated by id and bounded by a timeout, inbound calls are answered
// by the responder.
type Communicator struct {
	transport Transport
	codec     ipc.Codec
	timeout   time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	pending   map[string]*pendingRequest
	responder Responder

	listenerID ipc.ListenerID
}

// NewCommunicator creates a Communicator and subscribes it to transport
func NewCommunicator(transport Transport, opts ...CommunicatorOption) *Communicator {
	c := &Communicator{
		transport: transport,
		codec:     transport.Codec(),
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		pending:   make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "communicator")
	c.listenerID = transport.AddListener(c.OnMessage)
	return c
}

// Detach stops the Communicator from receiving messages. Pending requests
// are left to time out.
func (c *Communicator) Detach() {
	c.transport.RemoveListener(c.listenerID)
}

// SetResponder installs the inbound responder, replacing any previous one
func (c *Communicator) SetResponder(r Responder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responder = r
}

// Timeout returns the per-request response window
func (c *Communicator) Timeout() time.Duration {
	return c.timeout
}

// Codec returns the codec payloads are encoded with
func (c *Communicator) Codec() ipc.Codec {
	return c.codec
}

// Pending returns the number of requests awaiting a response
func (c *Communicator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Send calls service on the peer and waits for its response, the timeout,
// or ctx, whichever comes first. A transport failure is returned at once.
// The timeout starts before the request is written, so a blocked write
// still ends in RequestTimeout.
func (c *Communicator) Send(ctx context.Context, service string, data ipc.Raw) (ipc.Raw, error) {
	pending := &pendingRequest{
		correlationID: uuid.NewString(),
		service:       service,
		result:        make(chan result, 1),
		createdAt:     time.Now(),
	}

	msg, err := ipc.NewMessage(c.codec, TagRequest, Envelope{
		CorrelationID: pending.correlationID,
		ServiceName:   service,
		IsError:       false,
		Data:          data,
	})
	if err != nil {
		return nil, err
	}

	// Register before writing: the response may arrive before Send returns
	c.mu.Lock()
	c.pending[pending.correlationID] = pending
	c.mu.Unlock()

	// The window covers the write too; a peer that stops reading must not
	// hold the caller past its deadline.
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	written := make(chan error, 1)
	go func() {
		_, err := c.transport.Send(msg)
		written <- err
	}()

	for {
		select {
		case err := <-written:
			if err == nil {
				written = nil
				continue
			}
			if c.evict(pending) {
				return nil, fmt.Errorf("send %q: %w", service, err)
			}
		case r := <-pending.result:
			return r.data, r.err
		case <-timer.C:
			if c.evict(pending) {
				c.logger.Debug("request timed out", "service", service, "correlation_id", pending.correlationID)
				return nil, newRequestTimeout(service)
			}
		case <-ctx.Done():
			if c.evict(pending) {
				return nil, ctx.Err()
			}
		}
		break
	}

	// The response claimed the entry first; its result is on the way
	r := <-pending.result
	return r.data, r.err
}

// Call encodes req, sends it to service and decodes the response into resp.
// resp may be nil when the result is not needed.
func (c *Communicator) Call(ctx context.Context, service string, req any, resp any) error {
	data, err := c.codec.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %q request: %w", service, err)
	}
	out, err := c.Send(ctx, service, data)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := c.codec.Unmarshal(out, resp); err != nil {
		return fmt.Errorf("decode %q response: %w", service, err)
	}
	return nil
}

// evict removes pending if it is still registered. It returns false when a
// response already claimed it.
func (c *Communicator) evict(pending *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.pending[pending.correlationID]
	if !ok || current != pending {
		return false
	}
	delete(c.pending, pending.correlationID)
	return true
}

// OnMessage handles one message from the transport. It never blocks:
// responders run on their own goroutine.
func (c *Communicator) OnMessage(msg ipc.Message) {
	if !IsServiceTag(msg.ID) {
		return
	}

	var env Envelope
	if err := c.codec.Unmarshal(msg.Payload, &env); err != nil {
		c.logger.Warn("dropping malformed service message", "tag", msg.ID, "error", err)
		return
	}
	if env.CorrelationID == "" {
		c.logger.Warn("dropping service message without correlation id", "tag", msg.ID, "service", env.ServiceName)
		return
	}

	switch msg.ID {
	case TagRequest:
		go c.answer(env)
	case TagResponse:
		c.settle(env)
	}
}

// answer runs the responder for an inbound request and always replies
func (c *Communicator) answer(req Envelope) {
	c.mu.Lock()
	responder := c.responder
	c.mu.Unlock()

	if responder == nil {
		c.reply(req, nil, &ServiceError{Type: ErrorTypeServiceNotHandled, Service: req.ServiceName, Code: CodeServiceNotHandled})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	data, err := c.respond(ctx, responder, req)
	c.reply(req, data, err)
}

// respond shields the protocol from a panicking responder
func (c *Communicator) respond(ctx context.Context, responder Responder, req Envelope) (data ipc.Raw, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("responder panic: %v", r)
		}
	}()
	return responder(ctx, req.ServiceName, req.Data)
}

func (c *Communicator) reply(req Envelope, data ipc.Raw, err error) {
	resp := Envelope{
		CorrelationID: req.CorrelationID,
		ServiceName:   req.ServiceName,
	}

	if err != nil {
		code := errorCodeOf(err)
		c.logger.Debug("service request failed", "service", req.ServiceName, "code", code, "error", err)

		encoded, encErr := c.codec.Marshal(code)
		if encErr != nil {
			c.logger.Error("cannot encode error code", "error", encErr)
			return
		}
		resp.IsError = true
		resp.Data = encoded
	} else {
		resp.Data = data
	}

	msg, encErr := ipc.NewMessage(c.codec, TagResponse, resp)
	if encErr == nil {
		_, encErr = c.transport.Send(msg)
	}
	if encErr != nil && !resp.IsError {
		// A result the codec or channel rejects still gets an answer
		c.reply(req, nil, &ServiceError{Type: ErrorTypeServiceNotHandled, Service: req.ServiceName, Code: CodeServiceNotHandled})
		return
	}
	if encErr != nil {
		c.logger.Warn("cannot send service response", "service", req.ServiceName, "correlation_id", req.CorrelationID, "error", encErr)
	}
}

// errorCodeOf picks the wire code for a responder failure
func errorCodeOf(err error) ErrorCode {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		if serviceErr.Code != "" {
			return serviceErr.Code
		}
		return serviceErr.Type.Code()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeRequestTimeout
	}
	return CodeServiceNotHandled
}

// settle resolves the pending request matching resp. Responses for unknown,
// timed out or already settled ids are discarded.
func (c *Communicator) settle(resp Envelope) {
	c.mu.Lock()
	pending, ok := c.pending[resp.CorrelationID]
	if ok {
		delete(c.pending, resp.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("discarding response without pending request", "service", resp.ServiceName, "correlation_id", resp.CorrelationID)
		return
	}

	c.logger.Debug("response received", "service", pending.service, "elapsed", time.Since(pending.createdAt))

	if !resp.IsError {
		pending.result <- result{data: resp.Data}
		return
	}

	var code ErrorCode
	if err := c.codec.Unmarshal(resp.Data, &code); err != nil || code == "" {
		code = CodeServiceNotHandled
	}
	pending.result <- result{err: newRemoteError(pending.service, code)}
}
