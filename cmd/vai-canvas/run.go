package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/vango-go/vai-canvas/pkg/config"
	"github.com/vango-go/vai-canvas/pkg/core/history"
	"github.com/vango-go/vai-canvas/pkg/core/notify"
	"github.com/vango-go/vai-canvas/pkg/core/transcript"
	"github.com/vango-go/vai-canvas/pkg/live/capture"
	"github.com/vango-go/vai-canvas/pkg/live/device"
	"github.com/vango-go/vai-canvas/pkg/live/export"
	"github.com/vango-go/vai-canvas/pkg/live/imagegen"
	"github.com/vango-go/vai-canvas/pkg/live/playback"
	"github.com/vango-go/vai-canvas/pkg/live/screen"
	"github.com/vango-go/vai-canvas/pkg/live/session"
	"github.com/vango-go/vai-canvas/pkg/live/tools"
	"github.com/vango-go/vai-canvas/pkg/live/transport"
	"github.com/vango-go/vai-canvas/pkg/live/transport/gemini"
	"github.com/vango-go/vai-canvas/pkg/live/transport/ws"
	"github.com/vango-go/vai-canvas/pkg/metrics"
)

type runOptions struct {
	dual        bool
	autoConnect bool
	headless    bool
	noScreen    bool
	ffmpeg      string
	screenInput string
	screenWidth int
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the interactive console",
		Long: `Start the interactive console. Type "help" at the prompt for commands.

The console connects with "connect" (or immediately with --connect), captures
the default microphone, plays the model's voice on the default speaker and,
when sharing, sends a screenshot every VAI_CANVAS_SCREEN_INTERVAL.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConsole(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.dual, "dual", false, "share the screen as soon as a connection opens")
	f.BoolVar(&opts.autoConnect, "connect", false, "connect on start")
	f.BoolVar(&opts.headless, "headless", false, "run without microphone and speaker (or VAI_CANVAS_HEADLESS)")
	f.BoolVar(&opts.noScreen, "no-screen", false, "disable screen sharing")
	f.StringVar(&opts.ffmpeg, "ffmpeg", "", "ffmpeg binary used for screen capture (default: from PATH)")
	f.StringVar(&opts.screenInput, "screen-input", "", "ffmpeg input for screen capture (default: platform display)")
	f.IntVar(&opts.screenWidth, "screen-width", 0, "maximum width of shared screenshots")
	return cmd
}

func runConsole(ctx context.Context, opts runOptions, in io.Reader, out, errOut io.Writer) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.headless {
		cfg.Headless = true
	}
	logger, err := config.NewLogger(errOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	store, err := history.Open(ctx, cfg.HistoryBackend, cfg.HistoryDSN)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	apps, err := config.LoadApps(cfg.AppsFile)
	if err != nil {
		return err
	}
	appDir := tools.NewApps(apps...)

	exporter, err := export.NewDir(cfg.DownloadDir, logger)
	if err != nil {
		return err
	}

	var images tools.ImageGenerator
	if cfg.APIKey != "" {
		gen, err := imagegen.NewFromAPIKey(ctx, cfg.APIKey, imagegen.WithModel(cfg.ImageModel), imagegen.WithLogger(logger))
		if err != nil {
			logger.Warn("image generation unavailable", "error", err)
		} else {
			images = gen
		}
	}

	connector, err := newConnector(cfg, logger)
	if err != nil {
		return err
	}

	interactive := isTerminal(in)
	con := newConsole(out, interactive)
	m := metrics.New("vai_canvas")

	sess := session.New(session.Config{
		APIKey:         cfg.APIKey,
		Connector:      connector,
		Devices:        newDevices(cfg, opts),
		History:        store,
		Apps:           appDir,
		Browser:        device.SystemBrowser{Logger: logger},
		Images:         images,
		Exporter:       exporter,
		ToolTimeout:    cfg.ToolTimeout,
		PersistTimeout: cfg.PersistTimeout,
		ScreenInterval: cfg.ScreenInterval,
		Logger:         logger,
		Metrics:        m,
		Tracer:         otel.Tracer("github.com/vango-go/vai-canvas"),
		OnStateChange: func(from, to session.ConnectionState) {
			con.println(renderState(from, to))
		},
		OnNotification: func(n notify.Notification) { con.println(renderNotification(n)) },
		OnTranscript:   func(e transcript.Entry) { con.println(renderEntry(e)) },
		OnVideo:        func(v tools.VideoState) { con.println(renderVideo(v)) },
	})
	defer sess.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, m.Handler(), logger) })
	}
	g.Go(func() error { return config.WatchApps(gctx, cfg.AppsFile, appDir, logger) })
	g.Go(func() error {
		defer cancel()
		r := &repl{sess: sess, exporter: exporter, apps: appDir, con: con, dual: opts.dual}
		return r.run(gctx, in, opts.autoConnect)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newConnector(cfg config.Config, logger *slog.Logger) (transport.Connector, error) {
	setup := transport.Setup{
		Model:        cfg.LiveModel,
		Voice:        cfg.Voice,
		SystemPrompt: cfg.SystemPrompt,
		Tools:        tools.Declarations(),
	}
	switch cfg.Transport {
	case config.TransportWS:
		c, err := ws.NewConnector(ws.Config{URL: cfg.GatewayURL, APIKey: cfg.APIKey, Setup: setup, Logger: logger})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		// Without a key Connect fails before the connector is used.
		if cfg.APIKey == "" {
			return nil, nil
		}
		c, err := gemini.NewConnector(gemini.Config{APIKey: cfg.APIKey, Setup: setup, Logger: logger})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func newDevices(cfg config.Config, opts runOptions) session.Devices {
	var d session.Devices
	if !cfg.Headless {
		d.Microphone = func(ctx context.Context) (capture.Source, error) {
			mic, err := device.OpenMicrophone(ctx)
			if err != nil {
				return nil, err
			}
			return mic, nil
		}
		d.Speaker = func(ctx context.Context) (playback.Output, error) {
			spk, err := device.OpenSpeaker(ctx)
			if err != nil {
				return nil, err
			}
			return spk, nil
		}
	}
	if !opts.noScreen {
		sc := device.ScreenConfig{FFmpegPath: opts.ffmpeg, Input: opts.screenInput, Width: opts.screenWidth}
		d.Screen = func(ctx context.Context) (screen.Source, error) {
			src, err := device.OpenScreen(ctx, sc)
			if err != nil {
				return nil, err
			}
			return src, nil
		}
	}
	return d
}

func serveMetrics(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return <-errCh
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
