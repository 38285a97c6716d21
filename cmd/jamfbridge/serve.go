package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jamfbridge/jamfbridge/internal/handlers"
	"github.com/jamfbridge/jamfbridge/internal/lock"
	authmw "github.com/jamfbridge/jamfbridge/internal/middleware"
	"github.com/jamfbridge/jamfbridge/internal/processor"
	"github.com/jamfbridge/jamfbridge/internal/server"
	"github.com/jamfbridge/jamfbridge/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge API server and drain scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	slog.Info("Starting jamfbridge",
		slog.Int("port", app.cfg.Server.Port),
		slog.String("database", app.cfg.Database.Type),
		slog.String("vault_env", app.cfg.Vault.Environment),
	)

	var drainLock service.DrainLock
	if app.cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: app.cfg.Redis.Addr})
		defer redisClient.Close()
		drainLock = lock.New(redisClient, "jamfbridge:drain", app.cfg.Redis.LockTTL)
		slog.Info("Drain coordination enabled", slog.String("redis", app.cfg.Redis.Addr))
	}

	svc := service.New(app.repo, app.processor, drainLock, app.logger.Logger)
	handler := handlers.NewRequestHandler(svc, app.repo, app.vault, app.logger.Logger)
	authMW := authmw.NewAuthMiddleware(app.vault, app.logger.Logger)
	router := server.NewRouter(handler, authMW)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", app.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  app.cfg.Server.ReadTimeout,
		WriteTimeout: app.cfg.Server.WriteTimeout,
		IdleTimeout:  app.cfg.Server.IdleTimeout,
	}

	scheduler := processor.NewScheduler(app.processor, app.logger.Logger, app.cfg.Processor.Interval)
	schedulerCtx, cancelScheduler := context.WithCancel(ctx)
	defer cancelScheduler()
	go scheduler.Start(schedulerCtx)

	go func() {
		slog.Info("jamfbridge listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped gracefully")
	return nil
}
