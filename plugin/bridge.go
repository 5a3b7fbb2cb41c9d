package plugin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/machinefabric/plughost-go/ipc"
)

// Environment variables passed to every launched plugin
const (
	EnvCodec    = "PLUGHOST_CODEC"
	EnvPluginID = "PLUGHOST_PLUGIN_ID"
)

// DefaultShutdownGrace is how long Close waits for a plugin to exit on its
// own after stdin is closed before killing it.
const DefaultShutdownGrace = 2 * time.Second

// LaunchOptions controls how plugin processes are started
type LaunchOptions struct {
	// Command is the launcher prefix, e.g. ["deno", "run"]. Empty runs the
	// entry file directly.
	Command []string
	// PermissionFlags overrides entries of DefaultPermissionFlags.
	PermissionFlags map[Permission]string
	Codec           ipc.Codec
	Limits          ipc.Limits
	// Stderr receives the plugin's stderr; defaults to os.Stderr.
	Stderr io.Writer
	// StderrFor, when set, picks a stderr writer per plugin and takes
	// precedence over Stderr.
	StderrFor       func(info *Info) io.Writer
	Env             []string
	Logger          *slog.Logger
	ShutdownGrace   time.Duration
	ProtocolVersion int
	// BeforeStart runs after the channel exists and before its receive
	// loop starts, so listeners added here see every message. An error
	// aborts the launch.
	BeforeStart func(b *Bridge) error
}

func (o LaunchOptions) codec() ipc.Codec {
	if o.Codec == nil {
		return ipc.JSON
	}
	return o.Codec
}

func (o LaunchOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o LaunchOptions) grace() time.Duration {
	if o.ShutdownGrace <= 0 {
		return DefaultShutdownGrace
	}
	return o.ShutdownGrace
}

func (o LaunchOptions) protocolVersion() int {
	if o.ProtocolVersion == 0 {
		return ipc.ProtocolVersion
	}
	return o.ProtocolVersion
}

// Bridge connects the host to one plugin: it owns the plugin's Channel and,
// when launched, its process.
type Bridge struct {
	info    *Info
	channel *ipc.Channel
	logger  *slog.Logger
	grace   time.Duration

	cmd    *exec.Cmd
	source io.Reader
	sink   io.Writer

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// Launch starts the plugin process for d and begins receiving from its
// stdout. The process is killed if ctx is cancelled.
func Launch(ctx context.Context, d Discovered, opts LaunchOptions) (*Bridge, error) {
	args := LaunchArgs(d, opts.Command, opts.PermissionFlags)
	logger := opts.logger().With("plugin", d.Info.ID)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Env = append(cmd.Env,
		EnvCodec+"="+opts.codec().Name(),
		EnvPluginID+"="+d.Info.ID,
	)
	cmd.Stderr = opts.Stderr
	if opts.StderrFor != nil {
		cmd.Stderr = opts.StderrFor(d.Info)
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start plugin: %w", err)
	}
	logger.Info("plugin started", "pid", cmd.Process.Pid, "args", args)

	b := newBridge(d.Info, stdout, stdin, opts, logger)
	b.cmd = cmd
	if err := b.start(opts.BeforeStart); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	return b, nil
}

// Attach creates a Bridge over already connected streams. No process is
// involved; closing the bridge closes the streams that implement io.Closer.
// If r cannot be closed and does not reach EOF within the shutdown grace
// period, Close gives up waiting and returns an error.
func Attach(info *Info, r io.Reader, w io.Writer, opts LaunchOptions) (*Bridge, error) {
	logger := opts.logger().With("plugin", info.ID)
	b := newBridge(info, r, w, opts, logger)
	if err := b.start(opts.BeforeStart); err != nil {
		return nil, err
	}
	return b, nil
}

func newBridge(info *Info, r io.Reader, w io.Writer, opts LaunchOptions, logger *slog.Logger) *Bridge {
	channel := ipc.NewChannel(r, w,
		ipc.WithCodec(opts.codec()),
		ipc.WithLimits(opts.Limits),
		ipc.WithLogger(logger),
	)
	return &Bridge{
		info:    info,
		channel: channel,
		logger:  logger,
		grace:   opts.grace(),
		source:  r,
		sink:    w,
		exited:  make(chan struct{}),
	}
}

func (b *Bridge) start(beforeStart func(*Bridge) error) error {
	if beforeStart != nil {
		if err := beforeStart(b); err != nil {
			return fmt.Errorf("prepare plugin %q: %w", b.info.ID, err)
		}
	}
	b.channel.Start()
	go b.reap()
	return nil
}

// reap waits for the receive loop to finish, then for the process
func (b *Bridge) reap() {
	<-b.channel.Done()
	err := b.channel.Err()
	if b.cmd != nil {
		// stdout is drained, so Wait may close the pipes
		err = b.cmd.Wait()
	}
	b.waitErr = err
	if err != nil {
		b.logger.Warn("plugin exited", "error", err)
	} else {
		b.logger.Info("plugin exited")
	}
	close(b.exited)
}

// ID returns the plugin id
func (b *Bridge) ID() string { return b.info.ID }

// Info returns the plugin's manifest info unchanged
func (b *Bridge) Info() *Info { return b.info }

// Channel returns the bridge's channel
func (b *Bridge) Channel() *ipc.Channel { return b.channel }

// Exited is closed once the plugin's output has ended and, for launched
// plugins, the process has been reaped.
func (b *Bridge) Exited() <-chan struct{} { return b.exited }

// Wait blocks until the plugin exits and returns its exit error
func (b *Bridge) Wait() error {
	<-b.exited
	return b.waitErr
}

// Close asks the plugin to stop by closing its stdin. A launched plugin
// that has not exited within the shutdown grace period is killed.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.close()
	})
	return b.closeErr
}

func (b *Bridge) close() error {
	if c, ok := b.sink.(io.Closer); ok {
		_ = c.Close()
	}
	if b.cmd == nil {
		if c, ok := b.source.(io.Closer); ok {
			_ = c.Close()
		}
		timer := time.NewTimer(b.grace)
		defer timer.Stop()
		select {
		case <-b.exited:
			return nil
		case <-timer.C:
			return fmt.Errorf("plugin %q: input did not end within %s", b.info.ID, b.grace)
		}
	}

	timer := time.NewTimer(b.grace)
	defer timer.Stop()
	select {
	case <-b.exited:
		return nil
	case <-timer.C:
	}

	b.logger.Warn("plugin did not exit in time, killing", "grace", b.grace)
	if err := b.cmd.Process.Kill(); err != nil {
		select {
		case <-b.exited:
			return nil
		default:
		}
		return fmt.Errorf("kill plugin %q: %w", b.info.ID, err)
	}
	<-b.exited
	return nil
}
