// Package server exposes the HTTP trigger and admin surface: manual run
// trigger, channel inspection/selection for onboarding, test posts and a
// status endpoint. Mutating endpoints are bearer-token protected.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tldrbot/internal/config"
	"tldrbot/internal/delivery"
	"tldrbot/internal/schedule"
	"tldrbot/internal/store"
	logx "tldrbot/pkg/logx"
)

// Runner triggers one delivery sweep. *delivery.Coordinator satisfies it.
type Runner interface {
	RunDaily(ctx context.Context) (delivery.Summary, error)
}

// Scheduler reports cron state for the status endpoint.
type Scheduler interface {
	Snapshot() schedule.Snapshot
}

type Service struct {
	log   logx.Logger
	st    store.Store
	api   delivery.MessagingAPI
	run   Runner
	sched Scheduler

	mu  sync.Mutex
	cfg config.ServerConfig
	srv *http.Server

	lastMu  sync.Mutex
	lastRun *delivery.Summary
}

func New(cfg config.ServerConfig, st store.Store, api delivery.MessagingAPI, run Runner, sched Scheduler, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:   log,
		st:    st,
		api:   api,
		run:   run,
		sched: sched,
		cfg:   cfg,
	}
}

// Apply swaps the live config. The bearer token takes effect immediately; an
// address change requires a restart and is only logged.
func (s *Service) Apply(cfg config.ServerConfig) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.srv != nil
	s.mu.Unlock()

	if running && strings.TrimSpace(old.Addr) != strings.TrimSpace(cfg.Addr) {
		s.log.Warn("server addr changed; restart required to take effect",
			logx.String("current", old.Addr),
			logx.String("configured", cfg.Addr),
		)
	}
}

// Start binds the listener and serves in a background goroutine. It is a
// no-op when the server is disabled or already running.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: s.routes(),
		// WriteTimeout stays 0 unless configured: a full delivery sweep can
		// take minutes and must not be cut off mid-response.
		ReadTimeout:  durOr(s.cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: durOr(s.cfg.WriteTimeout, 0),
		IdleTimeout:  durOr(s.cfg.IdleTimeout, time.Minute),
	}
	s.srv = srv

	if strings.TrimSpace(s.cfg.Token) == "" && !isLoopbackAddr(addr) {
		s.log.Warn("server bound to non-loopback address without a token", logx.String("addr", addr))
	}

	go func() {
		s.log.Info("http server listening", logx.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server exited", logx.Err(err))
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("http server shutdown", logx.Err(err))
	}
}

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/status", s.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/api/cron", s.handleCron)
		r.Get("/api/channels", s.handleChannels)
		r.Post("/api/channel", s.handleSetChannel)
		r.Post("/api/test", s.handleTest)
		r.Post("/api/test-webhook", s.handleTestWebhook)
	})
	return r
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

// requireToken gates mutating endpoints behind the configured bearer token.
// With no token configured, only loopback peers are allowed through.
func (s *Service) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := strings.TrimSpace(s.cfg.Token)
		s.mu.Unlock()

		if token == "" {
			if isLoopbackHost(r.RemoteAddr) {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "token required")
			return
		}

		got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// durOr resolves a config duration string; invalid values were rejected by
// validation, so errors just fall back to the default.
func durOr(raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func isLoopbackAddr(addr string) bool {
	host := addr
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		host = addr[:i]
	}
	host = strings.Trim(host, "[]")
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

func isLoopbackHost(remoteAddr string) bool {
	return isLoopbackAddr(remoteAddr)
}

func (s *Service) setLastRun(sum delivery.Summary) {
	s.lastMu.Lock()
	s.lastRun = &sum
	s.lastMu.Unlock()
}

func (s *Service) getLastRun() *delivery.Summary {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastRun
}
