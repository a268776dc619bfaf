package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"

	jwttoken "aeroinsight/internal/jwt_token"
	"aeroinsight/internal/platform/config"
	"aeroinsight/internal/platform/httpserver"
	"aeroinsight/internal/platform/logger"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	mintUID := flag.String("mint-token", "", "print a signed development token for this uid and exit")
	mintEmail := flag.String("mint-email", "", "email claim for -mint-token")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if *mintUID != "" {
		token, err := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience).
			GenerateAccessToken(*mintUID, *mintEmail, 24*time.Hour)
		if err != nil {
			fmt.Fprintln(os.Stderr, "mint token:", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("aeroinsight stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			EnableTracing:    true,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
		}); err != nil {
			log.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	g, gctx := errgroup.WithContext(ctx)
	for _, worker := range app.workers {
		g.Go(func() error { return worker(gctx) })
	}

	srv := httpserver.New(cfg.Server.Addr, app.router)
	// Request contexts end with the server so open report streams let
	// Shutdown complete.
	srv.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		log.Info("starting aeroinsight", "addr", cfg.Server.Addr, "backend", app.backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info("http server stopped")
		return nil
	})

	return g.Wait()
}
