// Package webservice provides the public HTTP server of PixelDepot. It serves
// asset uploads, asset retrieval and player scores, on both the current routes
// and the original endpoints.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/pixeldepot/pixeldepot/internal/constants"
	"github.com/pixeldepot/pixeldepot/internal/metrics"
	"github.com/pixeldepot/pixeldepot/internal/webservice/handlers"
	"github.com/pixeldepot/pixeldepot/internal/webservice/middleware"
	wsmetrics "github.com/pixeldepot/pixeldepot/internal/webservice/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Server is a struct that holds the HTTP servers and their configuration.
type Server struct {
	httpServer    *http.Server
	metricsServer *metrics.Server
	cm            dConfigManager

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context waits until the next blocking Recv to interrupt.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc

	mu          sync.RWMutex
	primaryAddr net.Addr
}

// StaticConfig holds the static configuration for the server.
type StaticConfig struct {
	ConfigPath string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int
	MaxUploadBytes int

	RateLimitPS float64
	BurstLimit  int

	ListenHost string
	ListenPort int

	MetricsHost string
	MetricsPort int

	SentryDSN string
}

type dConfigManager interface {
	Load() error
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	IsAllowed(string) bool
	FormatAllowed(string, string) bool
}

// New creates a new Server instance from the dynamic config manager, the
// database store and the static configuration.
func New(ctx context.Context, cm dConfigManager, db handlers.Store, sc StaticConfig) (*Server, error) {
	if err := cm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	if sc.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     sc.SentryDSN,
			Release: constants.Version,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	s := Server{
		cm:     cm,
		ctx:    ctx,
		cancel: cancel,

		gracefulCtx:    gCtx,
		gracefulCancel: gCancel}

	registry := prometheus.NewRegistry()

	maxUpload := int64(sc.MaxUploadBytes)
	uploadHandler := handlers.NewUpload(db, cm, maxUpload)
	assetsHandler := handlers.NewAssets(db, cm)
	scoresHandler := handlers.NewScores(db)
	legacySprites := handlers.NewLegacySpriteUpload(db, maxUpload)
	legacyAudio := handlers.NewLegacyAudioUpload(db, maxUpload)
	legacyAssets := handlers.NewLegacyAssets(db)

	limiter := middleware.New(rate.Limit(sc.RateLimitPS), sc.BurstLimit)
	endpointMW := wsmetrics.NewEndpointMiddleware(registry)
	muxMW := wsmetrics.NewMuxMiddleware(registry)

	mux := http.NewServeMux()
	mux.Handle("POST /upload/{kind}", limiter.RateLimitMiddleware(endpointMW.Wrap("upload", uploadHandler)))
	mux.Handle("GET /assets/{kind}", endpointMW.Wrap("assets_list", http.HandlerFunc(assetsHandler.List)))
	mux.Handle("GET /assets/{kind}/{id}", endpointMW.Wrap("assets_get", http.HandlerFunc(assetsHandler.Get)))
	mux.Handle("GET /assets/{kind}/{id}/content", endpointMW.Wrap("assets_content", http.HandlerFunc(assetsHandler.Content)))
	mux.Handle("DELETE /assets/{kind}/{id}", endpointMW.Wrap("assets_delete", http.HandlerFunc(assetsHandler.Delete)))
	mux.Handle("POST /scores", limiter.RateLimitMiddleware(endpointMW.Wrap("scores_submit", http.HandlerFunc(scoresHandler.Submit))))
	mux.Handle("GET /scores", endpointMW.Wrap("scores_list", http.HandlerFunc(scoresHandler.List)))
	mux.Handle("GET /version", endpointMW.Wrap("version", http.HandlerFunc(handlers.VersionHandler)))

	// Original endpoints, trailing slash included. Paths, statuses and bodies
	// are pinned for existing game clients.
	mux.Handle("POST /upload_sprite/{$}", limiter.RateLimitMiddleware(endpointMW.Wrap("legacy_upload_sprite", legacySprites)))
	mux.Handle("POST /upload_audio/{$}", limiter.RateLimitMiddleware(endpointMW.Wrap("legacy_upload_audio", legacyAudio)))
	mux.Handle("POST /upload_score/{$}", limiter.RateLimitMiddleware(endpointMW.Wrap("legacy_upload_score", http.HandlerFunc(scoresHandler.LegacySubmit))))
	mux.Handle("GET /get_sprites/{$}", endpointMW.Wrap("legacy_get_sprites", http.HandlerFunc(legacyAssets.Sprites)))
	mux.Handle("GET /get_audio/{$}", endpointMW.Wrap("legacy_get_audio", http.HandlerFunc(legacyAssets.Audio)))
	mux.Handle("GET /get_scores/{$}", endpointMW.Wrap("legacy_get_scores", http.HandlerFunc(scoresHandler.LegacyList)))

	var handler http.Handler = middleware.RequestID(mux)
	if sc.SentryDSN != "" {
		handler = sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(handler)
	}

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", sc.ListenHost, sc.ListenPort),
		ReadTimeout:    sc.ReadTimeout,
		WriteTimeout:   sc.WriteTimeout,
		Handler:        muxMW.Wrap("mux", http.TimeoutHandler(handler, sc.RequestTimeout, "")),
		MaxHeaderBytes: sc.MaxHeaderBytes,
	}

	s.metricsServer = metrics.New(metrics.Config{
		Host:         sc.MetricsHost,
		Port:         sc.MetricsPort,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
	}, registry)

	return &s, nil
}

// Run starts the HTTP servers and listens for incoming requests.
func (s *Server) Run() error {
	slog.Info("Starting server", "addr", s.httpServer.Addr)

	// already asked to quit?
	select {
	case <-s.gracefulCtx.Done():
		return errors.New("server is already shutting down")
	default:
	}

	_, watchErr, err := s.cm.Watch(s.gracefulCtx)
	if err != nil {
		return fmt.Errorf("failed to start watching configuration: %v", err)
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen on %s: %v", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.primaryAddr = listener.Addr()
	s.mu.Unlock()

	serverErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	metricsErr := make(chan error, 1)
	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErr <- err
		}
		close(metricsErr)
	}()

	select {
	case <-s.gracefulCtx.Done():
		slog.Info("Graceful shutdown initiated")
		// use parent ctx so if you call s.cancel() elsewhere it unblocks Shutdown immediately
		err := s.httpServer.Shutdown(s.ctx)
		if mErr := s.metricsServer.Shutdown(s.ctx); mErr != nil {
			err = errors.Join(err, mErr)
		}
		if err != nil {
			slog.Error("Graceful shutdown failed", "err", err)
			return err
		}
		slog.Info("Server shut down gracefully")
		// now kill everything else (watchers, handlers, etc.)
		s.cancel()
		return nil

	case err := <-serverErr:
		if err != nil {
			slog.Error("Server encountered error", "err", err)
		}
		errM := s.metricsServer.Close()
		s.cancel()
		return errors.Join(err, errM)

	case err := <-metricsErr:
		if err != nil {
			slog.Error("Metrics server encountered error", "err", err)
		}
		errC := s.httpServer.Close()
		s.cancel()
		return errors.Join(err, errC)

	case err := <-watchErr:
		if err != nil {
			slog.Error("Config watcher encountered unrecoverable error", "err", err)
		}
		errC := s.httpServer.Close()
		errM := s.metricsServer.Close()
		s.cancel()

		return errors.Join(err, errC, errM)
	}
}

// Quit shuts down the HTTP servers gracefully.
func (s *Server) Quit(force bool) {
	defer s.cancel()

	if force {
		s.httpServer.Close()
		s.metricsServer.Close()
		s.cancel()
	} else {
		s.gracefulCancel()
	}
	slog.Info("Server quit")
}

// Addr returns the true address of the primary server once it is listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.primaryAddr == nil {
		return ""
	}
	return s.primaryAddr.String()
}
