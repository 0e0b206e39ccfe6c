// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package acp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/acp/services/acp/config"
)

// shutdownGrace is how long in-flight requests get to finish after the
// server is asked to stop.
const shutdownGrace = 10 * time.Second

// Server assembles the HTTP surface around one Service: routing,
// middleware, metrics, and graceful shutdown.
type Server struct {
	svc    *Service
	cfg    config.ServerConfig
	logger *slog.Logger
	debug  bool
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithServerAddr overrides the configured listen address.
func WithServerAddr(addr string) ServerOption {
	return func(s *Server) {
		if addr != "" {
			s.cfg.Addr = addr
		}
	}
}

// WithDebug enables gin debug mode and request logging.
func WithDebug(enabled bool) ServerOption {
	return func(s *Server) { s.debug = enabled }
}

// NewServer creates a Server over svc using the service's configuration.
func NewServer(svc *Service, opts ...ServerOption) *Server {
	s := &Server{
		svc:    svc,
		cfg:    svc.Config().Server,
		logger: svc.logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine: recovery, tracing middleware, the rate
// limiter on /v1, the Prometheus endpoint, and the /v1/acp routes.
func (s *Server) Router() *gin.Engine {
	if s.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-acp"))
	if s.debug {
		router.Use(gin.Logger())
	}

	// The metrics endpoint sits outside the rate-limited group so scrapes
	// never compete with clients for tokens.
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1", RateLimitMiddleware(s.cfg.RateLimit, s.cfg.Burst))
	RegisterRoutes(v1, NewHandlers(s.svc))

	return router
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests
// for up to shutdownGrace. A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("acp server listening",
			"addr", s.cfg.Addr,
			"project", s.svc.Root(),
			"rate_limit", s.cfg.RateLimit)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "grace", shutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-errCh
	return nil
}
