package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/machinefabric/plughost-go/ipc"
	"github.com/machinefabric/plughost-go/svc"
)

// ErrReservedTag is returned by Emit for the tags used by service traffic
var ErrReservedTag = errors.New("message id is reserved for service requests and responses")

// RuntimeOption configures a Runtime
type RuntimeOption func(*runtimeConfig)

type runtimeConfig struct {
	source  io.Reader
	sink    io.Writer
	codec   ipc.Codec
	limits  ipc.Limits
	logger  *slog.Logger
	timeout time.Duration
}

// WithStreams replaces stdin/stdout as the runtime's transport
func WithStreams(r io.Reader, w io.Writer) RuntimeOption {
	return func(c *runtimeConfig) {
		c.source = r
		c.sink = w
	}
}

// WithRuntimeCodec overrides the codec announced by the host
func WithRuntimeCodec(codec ipc.Codec) RuntimeOption {
	return func(c *runtimeConfig) { c.codec = codec }
}

func WithRuntimeLimits(limits ipc.Limits) RuntimeOption {
	return func(c *runtimeConfig) { c.limits = limits }
}

// WithRuntimeLogger sets the logger. It must not write to stdout.
func WithRuntimeLogger(logger *slog.Logger) RuntimeOption {
	return func(c *runtimeConfig) { c.logger = logger }
}

// WithRuntimeTimeout sets the timeout for calls made to the host
func WithRuntimeTimeout(d time.Duration) RuntimeOption {
	return func(c *runtimeConfig) { c.timeout = d }
}

// Runtime is the plugin side of the connection. It serves the services
// registered on it to the host and calls host services.
type Runtime struct {
	id       string
	channel  *ipc.Channel
	comm     *svc.Communicator
	registry *svc.Registry
	logger   *slog.Logger
}

// NewRuntime creates a Runtime over stdin and stdout using the codec named
// by PLUGHOST_CODEC.
func NewRuntime(opts ...RuntimeOption) (*Runtime, error) {
	cfg := runtimeConfig{
		source:  os.Stdin,
		sink:    os.Stdout,
		limits:  ipc.DefaultLimits(),
		timeout: svc.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := os.Getenv(EnvPluginID)
	if cfg.codec == nil {
		codec, err := ipc.CodecByName(os.Getenv(EnvCodec))
		if err != nil {
			return nil, fmt.Errorf("plugin runtime: %w", err)
		}
		cfg.codec = codec
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	logger := cfg.logger
	if id != "" {
		logger = logger.With("plugin", id)
	}

	channel := ipc.NewChannel(cfg.source, cfg.sink,
		ipc.WithCodec(cfg.codec),
		ipc.WithLimits(cfg.limits),
		ipc.WithLogger(logger),
	)
	registry := svc.NewRegistry()
	comm := svc.NewCommunicator(channel,
		svc.WithTimeout(cfg.timeout),
		svc.WithResponder(registry.Dispatch),
		svc.WithCommunicatorLogger(logger),
	)

	return &Runtime{
		id:       id,
		channel:  channel,
		comm:     comm,
		registry: registry,
		logger:   logger,
	}, nil
}

// ID returns the plugin id announced by the host, if any
func (r *Runtime) ID() string { return r.id }

func (r *Runtime) Channel() *ipc.Channel { return r.channel }

func (r *Runtime) Communicator() *svc.Communicator { return r.comm }

func (r *Runtime) Registry() *svc.Registry { return r.registry }

// Logger returns the runtime's logger, which writes to stderr
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Register serves handler under name to the host
func (r *Runtime) Register(name string, handler svc.Handler) {
	r.registry.Open(name, handler)
}

// Unregister stops serving name
func (r *Runtime) Unregister(name string) {
	r.registry.Close(name)
}

// Send calls a host service with already encoded data
func (r *Runtime) Send(ctx context.Context, service string, data ipc.Raw) (ipc.Raw, error) {
	return r.comm.Send(ctx, service, data)
}

// Call encodes req, calls a host service and decodes the result into resp
func (r *Runtime) Call(ctx context.Context, service string, req, resp any) error {
	return r.comm.Call(ctx, service, req, resp)
}

// Emit sends an application message with the given id
func (r *Runtime) Emit(id int, payload any) error {
	if svc.IsServiceTag(id) {
		return fmt.Errorf("emit %d: %w", id, ErrReservedTag)
	}
	_, err := r.channel.SendValue(id, payload)
	return err
}

// OnEvent calls fn for every application message with the given id
func (r *Runtime) OnEvent(id int, fn func(payload ipc.Raw)) ipc.ListenerID {
	return r.channel.AddListener(func(msg ipc.Message) {
		if msg.ID == id {
			fn(msg.Payload)
		}
	})
}

// Start begins serving in the background
func (r *Runtime) Start() {
	r.channel.Start()
}

// Run serves until the host closes the plugin's input
func (r *Runtime) Run() error {
	r.logger.Debug("plugin runtime serving", "services", r.registry.Names())
	err := r.channel.Run()
	if err != nil {
		return fmt.Errorf("plugin runtime: %w", err)
	}
	return nil
}
