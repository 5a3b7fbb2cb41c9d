// plughost discovers the plugins in a directory, launches each one as a
// subprocess and joins them into one service namespace. It runs until
// interrupted or until every plugin has exited.
//
// Any manifest or load problem (duplicate ids, missing entry files,
// unsatisfied dependencies, unsupported protocol versions) stops the host
// before a single plugin process is started.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/machinefabric/plughost-go/config"
	"github.com/machinefabric/plughost-go/host"
	"github.com/machinefabric/plughost-go/ipc"
	"github.com/machinefabric/plughost-go/plugin"
	"github.com/machinefabric/plughost-go/svc"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		pluginsDir string
		codec      string
		logLevel   string
		logFormat  string
	)

	flagSet := pflag.NewFlagSet("plughost", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML config file (default: $"+config.EnvConfig+")")
	flagSet.StringVar(&pluginsDir, "plugins-dir", "", "directory containing one subdirectory per plugin")
	flagSet.StringVar(&codec, "codec", "", "wire codec: json or cbor")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.StringVar(&logFormat, "log-format", "", "log format: text or json")
	timeout := flagSet.Duration("timeout", 0, "per-request timeout for service calls")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("plugins-dir") {
		cfg.PluginsDir = pluginsDir
	}
	if flagSet.Changed("codec") {
		cfg.Codec = codec
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flagSet.Changed("timeout") {
		cfg.RequestTimeout = *timeout
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// serve loads the plugins, wires them and waits for shutdown
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	codec, err := cfg.WireCodec()
	if err != nil {
		return err
	}

	discovered, err := plugin.Discover(cfg.PluginsDir, logger)
	if err != nil {
		return fmt.Errorf("discover plugins: %w", err)
	}

	h := host.New(
		host.WithTimeout(cfg.RequestTimeout),
		host.WithCodec(codec),
		host.WithLogger(logger),
	)
	host.RegisterBuiltins(h)

	opts := plugin.LaunchOptions{
		Command:         cfg.Launcher.Command,
		PermissionFlags: cfg.Launcher.Permissions(),
		Codec:           codec,
		Limits:          cfg.Limits(),
		Logger:          logger,
		ShutdownGrace:   cfg.Launcher.ShutdownGrace,
		BeforeStart: func(b *plugin.Bridge) error {
			events := logger.With("plugin", b.ID())
			b.Channel().AddListener(func(msg ipc.Message) {
				if !svc.IsServiceTag(msg.ID) {
					events.Debug("plugin event", "id", msg.ID, "payload_bytes", len(msg.Payload))
				}
			})
			return h.OpenFromPlugin(b)
		},
	}
	// filled by StderrFor while Load launches, one plugin at a time
	stderrs := make(map[string]*lineLogger)
	switch cfg.Launcher.Stderr {
	case config.StderrDiscard:
		opts.Stderr = io.Discard
	case config.StderrLog:
		opts.StderrFor = func(info *plugin.Info) io.Writer {
			w := newLineLogger(logger.With("plugin", info.ID, "stream", "stderr"))
			stderrs[info.ID] = w
			return w
		}
	}
	defer func() {
		for _, w := range stderrs {
			w.Flush()
		}
	}()

	// Plugins are stopped through Close on shutdown, not by cancellation.
	set, err := plugin.Load(context.WithoutCancel(ctx), discovered, opts)
	if err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}
	logger.Info("plugin host ready",
		"plugins", set.IDs(),
		"services", h.Registry().Names(),
		"codec", codec.Name(),
	)

	exited := set.Exited()
loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			break loop
		case id, ok := <-exited:
			if !ok {
				logger.Info("all plugins exited")
				break loop
			}
			if err := h.CloseFromPlugin(id); err != nil {
				logger.Warn("failed to unwire plugin", "plugin", id, "error", err)
			}
			if w, ok := stderrs[id]; ok {
				w.Flush()
			}
		}
	}

	if err := set.Close(); err != nil {
		return fmt.Errorf("stop plugins: %w", err)
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `plughost runs plugin processes and connects their services.

Usage:
  plughost [flags]

Examples:
  # Run the plugins under ./plugins with the default configuration
  plughost

  # Use a config file and verbose logging
  plughost --config plughost.yaml --log-level debug

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
