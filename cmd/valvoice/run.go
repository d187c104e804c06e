package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valvoice/backend/internal/backend"
	"github.com/valvoice/backend/internal/config"
	"github.com/valvoice/backend/internal/narration"
	"github.com/valvoice/backend/internal/stats"
	"github.com/valvoice/backend/internal/ws"
)

const (
	snapshotInterval = 5 * time.Second
	maxRelayClients  = 16
)

var (
	workDir  string
	noWatch  bool
	noRelay  bool
	errFatal = errors.New("fatal startup condition")
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the interceptor and narrate live chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if noRelay {
			cfg.Server.Enabled = false
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = run(ctx, cfg, logger)
		if err != nil {
			logger.Error("valvoice stopped", zap.Error(err))
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&workDir, "workdir", "", "Directory searched for the interceptor (default: current directory)")
	runCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the config file when it changes")
	runCmd.Flags().BoolVar(&noRelay, "no-relay", false, "Disable the WebSocket relay")
}

func run(sigCtx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	dir := workDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
	}

	tracker, err := stats.NewTracker(stats.NewStore(cfg.Stats.Dir), cfg.Stats.SaveInterval, logger.Named("stats"))
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}

	sinks := narration.MultiSink{narration.LogSink{Logger: logger.Named("narration")}, tracker}

	var broadcaster *ws.Broadcaster
	opts := backend.Options{Config: cfg, WorkDir: dir, Logger: logger}
	if cfg.Server.Enabled {
		broadcaster = ws.NewBroadcaster(snapshotInterval, maxRelayClients, logger.Named("ws"))
		defer broadcaster.Stop()
		sinks = append(sinks, broadcaster)
		opts.GameState = broadcaster
	}
	opts.Sink = sinks

	b := backend.New(opts)
	totals := tracker.Stats()
	b.Narrator().Seed(totals.TotalMessages, totals.TotalCharacters)
	logger.Info("narration totals loaded",
		zap.Int64("messages", totals.TotalMessages),
		zap.Int64("characters", totals.TotalCharacters),
		zap.Int("runs", totals.Runs))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tracker.Run(gctx)
		return nil
	})

	if broadcaster != nil {
		b.Dispatcher().Register(broadcaster)

		token, err := relayToken(cfg.Server.AuthToken, os.Stderr, logger)
		if err != nil {
			return err
		}
		srv := ws.NewServer(broadcaster, b.Session(), cfg.Server.AllowedOrigins, token, logger.Named("ws"))
		srv.SetStatsTracker(tracker)
		srv.SetCounters(b.Narrator().Counters)

		g.Go(func() error {
			if err := ws.ListenAndServe(gctx, cfg.Server.Host, cfg.Server.Port, srv.Handler(), logger.Named("ws")); err != nil {
				return fmt.Errorf("relay server: %w", err)
			}
			return nil
		})
	}

	if !noWatch {
		g.Go(func() error {
			if err := config.Watch(gctx, configPath, logger.Named("config"), b.ApplyConfig); err != nil {
				logger.Warn("config watch disabled", zap.Error(err))
			}
			return nil
		})
	}

	startErr := b.Start(gctx)
	if startErr == nil {
		waitForShutdown(gctx, b, logger)
	}

	if err := b.Stop(); err != nil {
		logger.Warn("backend stop", zap.Error(err))
	}
	cancel()
	werr := g.Wait()

	if werr != nil {
		return werr
	}
	if startErr != nil && sigCtx.Err() == nil {
		return fmt.Errorf("%w: %w", errFatal, startErr)
	}
	logger.Info("shutdown complete")
	return nil
}

// relayToken returns configured, or generates a token and prints it once to
// w. Only a short prefix reaches the log.
func relayToken(configured string, w io.Writer, logger *zap.Logger) (string, error) {
	if configured != "" {
		return configured, nil
	}
	token, err := config.GenerateToken()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(w, "relay auth token: %s\n", token)
	logger.Info("generated relay auth token, printed to stderr", zap.String("prefix", token[:4]))
	return token, nil
}

// waitForShutdown blocks until ctx ends. An interceptor that exits after
// validation is reported but does not stop the relay.
func waitForShutdown(ctx context.Context, b *backend.Backend, logger *zap.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-b.Done():
		code, _ := b.Supervisor().ExitCode()
		logger.Warn("interceptor exited, waiting for shutdown signal", zap.Int("code", code))
	}
	<-ctx.Done()
}
