package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	mcp "github.com/MegaGrindStone/go-mcp-device"
	"github.com/MegaGrindStone/go-mcp-device/internal/catalog"
	"github.com/MegaGrindStone/go-mcp-device/internal/config"
	"github.com/MegaGrindStone/go-mcp-device/internal/device"
	"github.com/MegaGrindStone/go-mcp-device/internal/metrics"
	"github.com/MegaGrindStone/go-mcp-device/internal/serialport"
	"github.com/MegaGrindStone/go-mcp-device/internal/tap"
)

var serveKeys = []string{
	config.KeyPort, config.KeyBaud, config.KeyReadTimeout, config.KeyBufferSize, config.KeyPollInterval,
	config.KeyInstructions, config.KeyServerName, config.KeyServerVersion, config.KeyResourceScheme,
	config.KeyUnknownMethod, config.KeyParseErrors, config.KeyValidateArguments, config.KeySimulate,
	config.KeyCatalog, config.KeyWatchCatalog, config.KeyHTTPListen,
}

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP engine on a serial port or stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			mustBindFlags(a.v, cmd.Flags(), serveKeys...)

			cfg, err := config.FromViper(a.v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, a.logger)
		},
	}

	flags := cmd.Flags()
	flags.StringP(config.KeyPort, "p", config.PortAuto, `serial port path, "auto" for the only port present or "stdio"`)
	flags.Int(config.KeyBaud, config.DefaultBaud, "serial baud rate")
	flags.Duration(config.KeyReadTimeout, config.DefaultReadTimeout, "serial read timeout")
	flags.String(config.KeyBufferSize, config.DefaultBufferSize, "largest accepted message, e.g. 4KiB")
	flags.Duration(config.KeyPollInterval, mcp.DefaultPollInterval, "interval between link polls")
	flags.String(config.KeyInstructions, "", "instructions returned by initialize")
	flags.String(config.KeyServerName, config.DefaultServerName, "server name returned by initialize")
	flags.String(config.KeyServerVersion, config.DefaultServerVersion, "server version returned by initialize")
	flags.String(config.KeyResourceScheme, mcp.DefaultResourceScheme, "scheme prepended to resource URIs without one")
	flags.String(config.KeyUnknownMethod, "reply", "answer to unknown methods (reply, ignore)")
	flags.String(config.KeyParseErrors, "drop", "answer to messages that are not JSON (drop, reply)")
	flags.Bool(config.KeyValidateArguments, false, "check tool arguments against the input schema before calling the handler")
	flags.Bool(config.KeySimulate, true, "register the simulated board tools and resources")
	flags.String(config.KeyCatalog, "", "YAML catalog of extra tools and resources")
	flags.Bool(config.KeyWatchCatalog, false, "reload the catalog when the file changes")
	flags.String(config.KeyHTTPListen, "", "address serving /healthz, /readyz, /metrics and /tap (disabled when empty)")

	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	link, closeLink, err := openLink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLink()

	var transport mcp.Transport = link
	var wireTap *tap.Tap
	if cfg.HTTPListen != "" {
		wireTap = tap.New(link, tap.WithLogger(logger))
		transport = wireTap
	}

	options := []mcp.ServerOption{
		mcp.WithRegistry(mcp.NewRegistry(mcp.WithRegistryScheme(cfg.ResourceScheme))),
		mcp.WithServerLogger(logger),
		mcp.WithInstructions(cfg.Instructions),
		mcp.WithPollInterval(cfg.PollInterval),
		mcp.WithBufferSize(cfg.BufferSize),
		mcp.WithUnknownMethodPolicy(cfg.UnknownMethod),
		mcp.WithParseErrorPolicy(cfg.ParseErrors),
	}
	if cfg.ValidateArguments {
		options = append(options, mcp.WithServerArgumentValidation())
	}
	var collector *metrics.Collector
	if cfg.HTTPListen != "" {
		collector = metrics.NewCollector("mcp_device")
		options = append(options, mcp.WithServerMetrics(collector))
	}

	srv := mcp.NewServer(mcp.Info{Name: cfg.ServerName, Version: cfg.ServerVersion}, transport, options...)

	if cfg.Simulate {
		if err := device.NewBoard(device.WithLogger(logger)).Register(srv); err != nil {
			return err
		}
	}
	if cfg.Catalog != "" {
		c, err := catalog.Load(cfg.Catalog)
		if err != nil {
			return err
		}
		if err := c.Register(srv); err != nil {
			return err
		}
	}
	if tools, resources := srv.Registry().Len(); tools == 0 && resources == 0 {
		logger.Warn("serving without tools or resources")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err == nil {
			// The link closed; stop the helpers too.
			return errLinkClosed
		}
		return err
	})
	if cfg.WatchCatalog {
		watcher := catalog.NewWatcher(cfg.Catalog, func(c *catalog.Catalog) error {
			return srv.Enqueue(ctx, func(r *mcp.Registry) error {
				return c.Register(r)
			})
		}, catalog.WithWatchLogger(logger))
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}
	if cfg.HTTPListen != "" {
		httpServer := metrics.NewServer(cfg.HTTPListen, collector, srv.Started, logger)
		httpServer.Handle("/tap", wireTap.Handler())
		g.Go(func() error {
			return httpServer.Start(ctx)
		})
	}

	logger.Info("serving",
		slog.String("port", cfg.Port),
		slog.String("buffer", humanize.IBytes(uint64(cfg.BufferSize))),
		slog.String("http", cfg.HTTPListen),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, errLinkClosed) {
		return err
	}
	logger.Info("link closed")
	return nil
}

var errLinkClosed = errors.New("link closed")

// openLink opens the transport named by cfg.Port.
func openLink(cfg config.Config, logger *slog.Logger) (*mcp.StreamTransport, func(), error) {
	var rw io.ReadWriter
	switch cfg.Port {
	case config.PortStdio:
		rw = struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}
	default:
		path := cfg.Port
		if path == config.PortAuto {
			detected, err := serialport.Detect()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to detect serial port: %w", err)
			}
			path = detected
			logger.Info("detected serial port", slog.String("port", path))
		}
		port, err := serialport.Open(serialport.Config{
			Path:        path,
			BaudRate:    cfg.Baud,
			ReadTimeout: cfg.ReadTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		rw = port
	}

	transport := mcp.NewStreamTransport(rw, rw, mcp.WithStreamTransportLogger(logger))
	return transport, func() {
		if err := transport.Close(); err != nil {
			logger.Warn("failed to close link", slog.String("err", err.Error()))
		}
	}, nil
}
