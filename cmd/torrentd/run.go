package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"torrentsession/internal/app"
	"torrentsession/internal/metrics"
	"torrentsession/internal/services/torrent/engine/anacrolix"
	"torrentsession/internal/session"
	"torrentsession/internal/telemetry"
	"torrentsession/internal/torrentutil"
)

type runFlags struct {
	torrentFiles  []string
	magnets       []string
	savePath      string
	sessionConfig string
	metricsAddr   string
}

func newRunCommand() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a session until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			if cmd.Flags().Changed("session-config") {
				cfg.SessionConfigPath = flags.sessionConfig
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = flags.metricsAddr
			}
			if flags.savePath == "" {
				flags.savePath = cfg.TorrentDataDir
			}
			return run(cmd.Context(), cfg, flags)
		},
	}
	cmd.Flags().StringArrayVar(&flags.torrentFiles, "torrent", nil, "path of a .torrent file to add (repeatable)")
	cmd.Flags().StringArrayVar(&flags.magnets, "magnet", nil, "magnet link to add (repeatable)")
	cmd.Flags().StringVar(&flags.savePath, "save-path", "", "download directory (defaults to TORRENT_DATA_DIR)")
	cmd.Flags().StringVar(&flags.sessionConfig, "session-config", "", "YAML file with session settings")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "address of the Prometheus listener, empty to disable")
	return cmd
}

func run(parent context.Context, cfg app.Config, flags runFlags) error {
	logger := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	if parent == nil {
		parent = context.Background()
	}
	shutdownTracer, err := telemetry.Init(parent, telemetry.Config{
		ServiceName: "torrentd",
		Endpoint:    cfg.OTELEndpoint,
		SampleRate:  telemetry.ParseSampleRate(cfg.OTELSampleRate),
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	sessionCfg, err := app.LoadSessionConfiguration(cfg.SessionConfigPath)
	if err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("service", "torrentd"),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("dataDir", cfg.TorrentDataDir),
		slog.String("savePath", flags.savePath),
		slog.String("metricsAddr", cfg.MetricsAddr),
		slog.String("listen", sessionCfg.ListenInterfaces),
		slog.Duration("alertPollInterval", cfg.AlertPollInterval),
	)

	rootCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := anacrolix.New(anacrolix.Config{DataDir: cfg.TorrentDataDir, Logger: logger})
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("engine close error", slog.String("error", err.Error()))
		}
	}()

	sess, err := session.New(rootCtx, engine,
		session.WithConfiguration(sessionCfg),
		session.WithLogger(logger),
		session.WithPollInterval(cfg.AlertPollInterval),
	)
	if err != nil {
		return err
	}

	addInitialTorrents(rootCtx, sess, flags, logger)

	g, ctx := errgroup.WithContext(rootCtx)
	alerts := sess.Alerts(session.WithBuffer(cfg.AlertBuffer))
	g.Go(func() error {
		logAlerts(ctx, alerts, logger)
		return nil
	})
	g.Go(func() error {
		publishStatistics(ctx, sess, cfg.StatsInterval, logger)
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr, logger)
		})
	}

	logger.Info("session running", slog.Int("torrents", len(sess.Torrents())))
	<-ctx.Done()
	logger.Info("shutdown signal received")

	alerts.Close()
	err = g.Wait()
	if closeErr := sess.Close(); closeErr != nil {
		logger.Warn("session close error", slog.String("error", closeErr.Error()))
	}
	logger.Info("session stopped")
	return err
}

func addInitialTorrents(ctx context.Context, sess *session.Session, flags runFlags, logger *slog.Logger) {
	for _, path := range flags.torrentFiles {
		t, err := sess.AddTorrentFile(ctx, path, flags.savePath)
		if err != nil {
			logger.Warn("add torrent failed", slog.String("source", path), slog.String("error", err.Error()))
			continue
		}
		logger.Info("torrent added", slog.String("torrentId", t.ID().String()), slog.String("source", path))
	}
	for _, uri := range flags.magnets {
		t, err := sess.AddMagnet(ctx, uri, flags.savePath)
		if err != nil {
			logger.Warn("add magnet failed", slog.String("source", uri), slog.String("error", err.Error()))
			continue
		}
		logger.Info("torrent added", slog.String("torrentId", t.ID().String()), slog.String("source", uri))
	}
}

func logAlerts(ctx context.Context, alerts *session.AlertSubscription, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-alerts.C():
			if !ok {
				return
			}
			logger.Info("engine alert",
				slog.String("message", a.Message),
				slog.Time("at", a.Timestamp),
			)
		}
	}
}

// publishStatistics feeds the session aggregate into the Prometheus gauges
// and logs per-torrent progress at debug level.
func publishStatistics(ctx context.Context, sess *session.Session, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := sess.Statistics(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warn("statistics failed", slog.String("error", err.Error()))
				}
				continue
			}
			metrics.ObserveStatistics(stats)
			logger.Debug("session statistics",
				slog.String("download", torrentutil.FormatRate(stats.DownloadRate)),
				slog.String("upload", torrentutil.FormatRate(stats.UploadRate)),
				slog.Int("active", stats.ActiveTorrents),
				slog.Int("paused", stats.PausedTorrents),
				slog.Int("peers", stats.TotalPeers),
			)
			logTorrentProgress(ctx, sess, logger)
		}
	}
}

func logTorrentProgress(ctx context.Context, sess *session.Session, logger *slog.Logger) {
	for _, t := range sess.Torrents() {
		st, err := t.Status(ctx)
		if err != nil {
			continue
		}
		attrs := []any{
			slog.String("torrentId", t.ID().String()),
			slog.String("state", string(st.State)),
			slog.Float64("progress", st.Progress),
			slog.String("rate", torrentutil.FormatRate(st.DownloadRate)),
			slog.String("age", torrentutil.FormatDuration(time.Since(t.AddedAt()))),
		}
		if info, ok := t.Info(ctx); ok {
			done := int64(st.Progress * float64(info.TotalSize))
			attrs = append(attrs,
				slog.String("name", info.Name),
				slog.String("size", torrentutil.HumanReadableSize(info.TotalSize)),
			)
			if eta, ok := torrentutil.ETADuration(info.TotalSize, done, st.DownloadRate); ok {
				attrs = append(attrs, slog.String("eta", torrentutil.FormatDuration(eta)))
			}
		}
		logger.Debug("torrent progress", attrs...)
	}
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(promhttp.Handler(), "metrics"),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("metrics listener started", slog.String("addr", addr))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown error", slog.String("error", err.Error()))
	}
	return nil
}
