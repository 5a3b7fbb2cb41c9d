package ipc

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
)

// Listener receives every decoded message. Listeners run synchronously
// on the receive loop: a slow listener stalls the whole channel, so
// anything long-running must be handed off to another goroutine.
type Listener func(msg Message)

// ListenerID identifies a registered Listener for removal
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// ChannelOption configures a Channel
type ChannelOption func(*Channel)

// WithCodec selects the message codec (JSON by default)
func WithCodec(codec Codec) ChannelOption {
	return func(c *Channel) { c.codec = codec }
}

// WithLimits sets the receive limits
func WithLimits(limits Limits) ChannelOption {
	return func(c *Channel) { c.limits = limits.withDefaults() }
}

// WithLogger sets the logger used for dropped messages and loop termination
func WithLogger(logger *slog.Logger) ChannelOption {
	return func(c *Channel) { c.logger = logger }
}

// Channel is a framed, bidirectional message transport over a byte-stream
// source and sink. Each message is the codec encoding followed by the
// Terminator byte.
type Channel struct {
	source io.Reader
	sink   io.Writer
	codec  Codec
	limits Limits
	logger *slog.Logger

	writeMu sync.Mutex

	listenersMu    sync.Mutex
	listeners      []listenerEntry
	nextListenerID ListenerID

	// carry holds bytes received after the last terminator. Only the
	// receive loop touches it.
	carry []byte
	// skipping is set after an oversized message was dropped; bytes are
	// discarded until the next terminator.
	skipping bool

	startOnce sync.Once
	done      chan struct{}
	err       error
}

// NewChannel creates a Channel reading from source and writing to sink.
// Either may be nil: without a sink Send fails, without a source the
// receive loop ends immediately.
func NewChannel(source io.Reader, sink io.Writer, opts ...ChannelOption) *Channel {
	c := &Channel{
		source: source,
		sink:   sink,
		codec:  JSON,
		limits: DefaultLimits(),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "channel")
	return c
}

// Codec returns the codec used on this channel
func (c *Channel) Codec() Codec {
	return c.codec
}

// AddListener registers fn and returns its id
func (c *Channel) AddListener(fn Listener) ListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	c.nextListenerID++
	id := c.nextListenerID
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: fn})
	return id
}

// RemoveListener unregisters a listener. Unknown ids are ignored. A
// dispatch already in progress still sees the listener set it started with.
func (c *Channel) RemoveListener(id ListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	c.listeners = slices.DeleteFunc(slices.Clone(c.listeners), func(e listenerEntry) bool {
		return e.id == id
	})
}

// Send encodes msg and writes it, terminator included, as one unit.
// Concurrent callers are serialized so frames never interleave.
func (c *Channel) Send(msg Message) (int, error) {
	if c.sink == nil {
		return 0, &TransportError{Kind: TransportErrorNoSink}
	}

	encoded, err := c.codec.EncodeMessage(msg)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 0, len(encoded)+1)
	buf = append(buf, encoded...)
	buf = append(buf, Terminator)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.sink.Write(buf)
	if err != nil {
		return n, &TransportError{Kind: TransportErrorWrite, Err: err}
	}
	return n, nil
}

// SendValue encodes payload with the channel codec and sends it under id
func (c *Channel) SendValue(id int, payload any) (int, error) {
	msg, err := NewMessage(c.codec, id, payload)
	if err != nil {
		return 0, err
	}
	return c.Send(msg)
}

// Start runs the receive loop in a background goroutine. Calling it more
// than once has no further effect.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// Run runs the receive loop on the calling goroutine until the source
// ends. It returns nil on a clean end of stream.
func (c *Channel) Run() error {
	started := false
	c.startOnce.Do(func() {
		started = true
		c.run()
	})
	if !started {
		<-c.done
	}
	return c.err
}

// Done is closed when the receive loop has ended
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns why the receive loop ended: nil for end of stream, a
// TransportError otherwise. Only meaningful after Done is closed.
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Channel) run() {
	defer close(c.done)

	if c.source == nil {
		c.err = &TransportError{Kind: TransportErrorNoSource}
		return
	}

	buf := make([]byte, c.limits.ReadBufferSize)
	for {
		n, err := c.source.Read(buf)
		if n > 0 {
			c.consume(buf[:n])
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(c.carry) > 0 {
				c.logger.Warn("discarding unterminated data at end of stream", "bytes", len(c.carry))
				c.carry = nil
			}
			c.logger.Debug("receive loop ended")
			return
		}
		c.err = &TransportError{Kind: TransportErrorRead, Err: err}
		c.logger.Error("receive loop failed", "error", err)
		return
	}
}

// consume splits a chunk on terminators and dispatches every complete frame
func (c *Channel) consume(chunk []byte) {
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, Terminator)
		if i < 0 {
			c.buffer(chunk)
			return
		}

		if c.skipping {
			c.skipping = false
		} else {
			frame := chunk[:i]
			if len(c.carry) > 0 {
				frame = append(c.carry, frame...)
				c.carry = nil
			}
			if len(frame) > c.limits.MaxMessageSize {
				c.logger.Warn("dropping message", "error", &ProtocolError{Kind: ProtocolErrorOversize, Message: "exceeds max_message_size"}, "bytes", len(frame))
			} else {
				c.dispatch(frame)
			}
		}
		chunk = chunk[i+1:]
	}
}

// buffer appends undelimited bytes to the carry buffer, dropping the
// message once it grows past the size limit
func (c *Channel) buffer(data []byte) {
	if c.skipping {
		return
	}
	if len(c.carry)+len(data) > c.limits.MaxMessageSize {
		c.logger.Warn("dropping message", "error", &ProtocolError{Kind: ProtocolErrorOversize, Message: "exceeds max_message_size"}, "bytes", len(c.carry)+len(data))
		c.carry = nil
		c.skipping = true
		return
	}
	c.carry = append(c.carry, data...)
}

func (c *Channel) dispatch(frame []byte) {
	if len(frame) == 0 {
		c.logger.Debug("ignoring empty frame")
		return
	}

	msg, err := c.codec.DecodeMessage(frame)
	if err != nil {
		c.logger.Warn("dropping message", "error", err, "bytes", len(frame))
		return
	}

	c.listenersMu.Lock()
	snapshot := c.listeners
	c.listenersMu.Unlock()

	for _, l := range snapshot {
		l.fn(msg)
	}
}
