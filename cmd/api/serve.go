package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ezzatsd/CynaApp/internal/di"
	"github.com/ezzatsd/CynaApp/internal/platform/requestctx"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Action: func(c *cli.Context) error {
			rt, err := bootstrap(c, requiredSecretNames(true))
			if err != nil {
				return err
			}
			defer rt.Close()
			return serve(c.Context, rt)
		},
	}
}

func serve(parent context.Context, rt *appRuntime) error {
	logger := rt.logger
	ctx, stop := signal.NotifyContext(requestctx.WithLogger(parent, logger), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buildInfo := buildInfoFromEnv(rt.env, rt.cfg, rt.startedAt)
	container, err := di.NewContainer(ctx, rt.cfg, logger, di.WithBuildInfo(buildInfo))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		container.Janitor.Run(cleanupCtx)
	}()

	server := &http.Server{
		Addr:         ":" + rt.cfg.Server.Port,
		Handler:      container.Router,
		ReadTimeout:  rt.cfg.Server.ReadTimeout,
		WriteTimeout: rt.cfg.Server.WriteTimeout,
		IdleTimeout:  rt.cfg.Server.IdleTimeout,
	}

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("version", buildInfo.Version),
		zap.String("environment", buildInfo.Environment),
	)
	serveErr := make(chan error, 1)
	go func() {
		serverLogger.Info("cyna api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		cleanupCancel()
		cleanupWG.Wait()
		if err != nil {
			serverLogger.Error("http server error", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
