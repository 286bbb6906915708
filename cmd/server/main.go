package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/amil1105/tombala-sub000/internal/archive"
	"github.com/amil1105/tombala-sub000/internal/bot"
	"github.com/amil1105/tombala-sub000/internal/config"
	"github.com/amil1105/tombala-sub000/internal/discovery"
	"github.com/amil1105/tombala-sub000/internal/httpapi"
	"github.com/amil1105/tombala-sub000/internal/hub"
	"github.com/amil1105/tombala-sub000/internal/lobby"
	"github.com/amil1105/tombala-sub000/internal/logger"
	"github.com/amil1105/tombala-sub000/internal/notify"
	"github.com/amil1105/tombala-sub000/internal/store"
	"github.com/amil1105/tombala-sub000/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var standings httpapi.Standings
	lobbyOpts := lobby.Options{
		Logger:   log,
		AutoDraw: cfg.AutoDraw,
	}

	// Optional backends. Each one that comes up registers its cleanup.
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	if cfg.DatabaseDSN != "" {
		checkpoints, err := store.OpenGorm(cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		closers = append(closers, checkpoints.Close)
		lobbyOpts.Checkpoints = checkpoints

		arch, err := archive.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		closers = append(closers, func() error { arch.Close(); return nil })
		if err := arch.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate archive: %w", err)
		}
		lobbyOpts.Recorder = arch
		standings = arch
		log.Info("postgres enabled: checkpoints and result archive")
	}

	if cfg.NATSURL != "" {
		pub, err := notify.Connect(cfg.NATSURL, log.Named("nats"))
		if err != nil {
			return err
		}
		closers = append(closers, pub.Close)
		lobbyOpts.Publisher = pub
		log.Info("nats fan-out enabled", zap.String("url", cfg.NATSURL))
	}

	h := hub.NewHub(ctx, hub.Options{Lobby: lobbyOpts})

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:       h,
		Bots:      bot.NewSpawner(ctx, bot.Options{Logger: log.Named("bot"), ReactionDelay: time.Second, Jitter: 2 * time.Second}),
		Standings: standings,
		Logger:    log,
		WS:        ws.Options{Logger: log.Named("ws"), OutboxSize: cfg.OutboxSize, OriginPatterns: cfg.OriginPatterns},
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.ConsulAddr != "" {
		port, err := cfg.Port()
		if err != nil {
			return err
		}
		reg, err := discovery.Register(cfg.ConsulAddr, port, log.Named("consul"))
		if err != nil {
			return err
		}
		closers = append(closers, reg.Deregister)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		default: // hub already stopping with ctx
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
