package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-compat-server-go/pkg/compatserver"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/config"
	"github.com/vikashloomba/mcp-compat-server-go/pkg/session"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "mcp-compat-server: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, _, err := config.LoadServer(args)
	if err != nil {
		return err
	}
	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	srv, err := compatserver.New(&compatserver.Options{
		Addr:            cfg.Addr,
		AllowedOrigins:  cfg.AllowedOrigins,
		KeepAlive:       cfg.KeepAlive,
		IdleTimeout:     cfg.IdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.ListenAndServe(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		reportSessions(gctx, srv.Sessions(), logger, time.Minute)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func reportSessions(ctx context.Context, sessions *session.Manager, logger *slog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts := sessions.Counts()
			logger.Debug("live sessions",
				"streamable", counts[session.GenerationStreamable],
				"legacy", counts[session.GenerationLegacy])
		}
	}
}
