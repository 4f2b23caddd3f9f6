package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/credit-stake-ea/internal/circuitbreaker"
	"github.com/yourorg/credit-stake-ea/internal/engine"
	"github.com/yourorg/credit-stake-ea/internal/metrics"
	"github.com/yourorg/credit-stake-ea/internal/security"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// ServerConfig holds the HTTP-level settings of the server
type ServerConfig struct {
	Port           string
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server exposes the engine over HTTP
type Server struct {
	config   ServerConfig
	engine   *engine.Engine
	breaker  *circuitbreaker.CircuitBreaker
	metrics  *metrics.Recorder
	gatherer prometheus.Gatherer
	attestor *security.Attestor
	limiter  *rate.Limiter
	server   *http.Server
}

// NewServer creates a server. breaker, rec and attestor may be nil.
func NewServer(cfg ServerConfig, eng *engine.Engine, breaker *circuitbreaker.CircuitBreaker, rec *metrics.Recorder, gatherer prometheus.Gatherer, attestor *security.Attestor) *Server {
	s := &Server{
		config:   cfg,
		engine:   eng,
		breaker:  breaker,
		metrics:  rec,
		gatherer: gatherer,
		attestor: attestor,
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logrus.Infof("Rate limiting initialized: %v req/s, burst: %d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	return s
}

// Routes returns the HTTP handler of the server
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/circuit", s.handleCircuitStatus)

	mux.Handle("/score/status", s.instrument("score_status", s.handleScoreStatus))
	mux.Handle("/score", s.instrument("score", s.handleComputeScore))
	mux.Handle("/analyze", s.instrument("analyze", s.handleAnalyze))
	mux.Handle("/rate", s.instrument("rate", s.handleRate))
	mux.Handle("/stake", s.instrument("stake", s.handleStake))
	mux.Handle("/claim", s.instrument("claim", s.handleClaim))
	mux.Handle("/withdraw", s.instrument("withdraw", s.handleWithdraw))
	mux.Handle("/position", s.instrument("position", s.handlePosition))
	mux.Handle("/sync", s.instrument("sync", s.handleSync))
	mux.Handle("/resume", s.instrument("resume", s.handleResume))

	return mux
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument applies rate limiting, the request timeout, and request metrics
func (s *Server) instrument(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			s.metrics.ObserveRequest(name, strconv.Itoa(rec.status), time.Since(start))
		}()

		if s.limiter != nil && !s.limiter.Allow() {
			writeJSON(rec, http.StatusTooManyRequests, errorBody{Status: "error", Error: "Rate limit exceeded"})
			return
		}

		if s.config.RequestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		h(rec, r)
	})
}

// Start begins the HTTP server and blocks until SIGINT or SIGTERM
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
		return
	}
	logrus.Info("Server stopped")
}
