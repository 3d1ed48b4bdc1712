package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/config"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/domain/clinicalnotes"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/domain/medicalhistory"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/apperr"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/auth"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/middleware"
)

const version = "0.1.0"

// services are the domain entry points mounted by newRouter.
type services struct {
	medicalHistory *medicalhistory.Service
	clinicalNotes  *clinicalnotes.Service
	dbHealth       echo.HandlerFunc
}

func newRouter(cfg *config.Config, logger zerolog.Logger, svc services) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	// Global middleware. Logger sits outside Recovery so recovered panics are
	// logged with their final status.
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader, cfg.TenantHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if svc.dbHealth != nil {
		e.GET("/health/db", svc.dbHealth)
	}

	apiV1 := e.Group("/api/v1")

	// Only the tenant-scoped family resolves a tenant; clinical notes are
	// shared and never read the tenant header.
	medicalhistory.NewHandler(svc.medicalHistory).RegisterRoutes(apiV1, db.TenantMiddleware(cfg.TenantHeader))
	clinicalnotes.NewHandler(svc.clinicalNotes).RegisterRoutes(apiV1)

	return e
}

func runServer(ctx context.Context, a *app) error {
	scoper := db.NewScoper(a.pool, a.registry, a.cfg.DBAcquireTimeout, a.logger)
	mhRepo := medicalhistory.NewRepoPG(scoper)
	notesRepo := clinicalnotes.NewRepoPG(db.NewGlobal(a.pool))

	a.logger.Info().Str("repository", "medical_history").Stringer("scope", mhRepo.Scope()).Msg("repository wired")
	a.logger.Info().Str("repository", "clinical_notes").Stringer("scope", notesRepo.Scope()).Msg("repository wired")

	e := newRouter(a.cfg, a.logger, services{
		medicalHistory: medicalhistory.NewService(mhRepo),
		clinicalNotes:  clinicalnotes.NewService(notesRepo),
		dbHealth:       db.HealthHandler(a.pool),
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + a.cfg.Port
		a.logger.Info().Str("addr", addr).Str("env", a.cfg.Env).Msg("starting server")
		var err error
		if a.cfg.TLSEnabled {
			err = e.StartTLS(addr, a.cfg.TLSCertFile, a.cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info().Msg("server stopped")
	return nil
}
