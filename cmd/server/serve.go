package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aethra/civicdesk/internal/api"
	"github.com/aethra/civicdesk/internal/auth"
	"github.com/aethra/civicdesk/internal/config"
	"github.com/aethra/civicdesk/internal/engine"
	"github.com/aethra/civicdesk/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.WithField("version", Version).Info("CivicDesk starting")
	gin.SetMode(ginMode(a.cfg.Server.Mode))

	loc := config.ResolveAdminTimezone(a.cfg.Requests.AdminTimezone, a.logger)
	store, err := storage.New(ctx, a.cfg.Storage, a.logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	engines := api.Engines{
		Requests:   engine.NewRequestEngine(a.db, store, loc, a.logger),
		Catalog:    engine.NewCatalogEngine(a.db, store, a.logger),
		Users:      engine.NewUserEngine(a.db, store, a.cfg.Auth.AutoApprove, a.logger),
		SubSectors: engine.NewSubSectorEngine(a.db, a.logger),
		Bulletins:  engine.NewBulletinEngine(a.db, store, loc, a.logger),
		Reports:    engine.NewReportEngine(a.db, a.logger),
	}

	jwtService := auth.NewJWTService(a.cfg.Auth, a.logger)
	rateLimiter := api.NewLoginRateLimiter()
	defer rateLimiter.Close()

	routerCfg := api.RouterConfig{CORS: a.cfg.CORS}
	if local, ok := store.(*storage.LocalStore); ok {
		routerCfg.UploadsDir = local.Root()
		routerCfg.UploadsPrefix = local.PublicPrefix()
	}

	router, err := api.SetupRouter(
		routerCfg,
		api.NewHandler(engines, jwtService, a.logger),
		api.NewAdminHandler(engines.Users, engines.SubSectors, a.logger),
		api.NewAuthHandler(engines.Users, jwtService, rateLimiter, a.logger),
		a.logger,
	)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(a.cfg.Server.WriteTimeout) * time.Second,
	}
	return listenAndServe(ctx, server, a.logger)
}

// listenAndServe runs the server until ctx is cancelled, then drains in-flight requests
func listenAndServe(ctx context.Context, server *http.Server, logger *logrus.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func ginMode(mode string) string {
	switch mode {
	case gin.DebugMode, gin.TestMode:
		return mode
	default:
		return gin.ReleaseMode
	}
}
