package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gasrails/internal/balance"
	"gasrails/internal/chain"
	"gasrails/internal/config"
	"gasrails/internal/history"
	"gasrails/internal/hmacauth"
	"gasrails/internal/ratelimit"
	"gasrails/internal/relay"
)

// Relayer is the engine surface the gateway consumes.
type Relayer interface {
	Relay(ctx context.Context, req relay.Request) relay.Outcome
}

type Server struct {
	cfg        *config.AppConfig
	engine     Relayer
	monitor    *balance.Monitor
	store      history.Store
	limiter    ratelimit.Limiter
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metricsRegistry
	log        *zap.Logger

	rpcHealthFn func(context.Context) error
	dbHealthFn  func(context.Context) error
	identity    chain.Identity
}

type Options struct {
	Engine   Relayer
	Monitor  *balance.Monitor
	Store    history.Store
	Limiter  ratelimit.Limiter
	Chain    chain.Client
	Identity chain.Identity
	Logger   *zap.Logger
}

func NewServer(cfg *config.AppConfig, opts Options) *Server {
	verifier := &hmacauth.Verifier{
		Secret:  cfg.Seed.Secrets.APIHMACSecret,
		MaxSkew: cfg.Service.HMACClockSkew,
	}

	metrics := newMetricsRegistry()

	s := &Server{
		cfg:      cfg,
		engine:   opts.Engine,
		monitor:  opts.Monitor,
		store:    opts.Store,
		limiter:  opts.Limiter,
		hmac:     verifier,
		metrics:  metrics,
		log:      opts.Logger,
		identity: opts.Identity,
	}

	if checker, ok := opts.Chain.(chain.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}
	if checker, ok := opts.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if s.monitor != nil {
		s.monitor.OnSample = func(wei *big.Int, _ bool) {
			metrics.setBalance(wei)
		}
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.rateLimitMiddleware, verifier.Middleware).Post("/relay", s.handleRelay)
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", metrics.handler())
	})

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// NotificationResultHook feeds webhook delivery results into the metrics
// registry; main hands it to the dispatcher.
func (s *Server) NotificationResultHook() func(string) {
	return s.metrics.incNotification
}

func (s *Server) Start() error {
	s.log.Info("API listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type relayRequest struct {
	RequestID  string            `json:"requestId,omitempty"`
	Capability string            `json:"capability"`
	Args       map[string]string `json:"args"`
}

type relayResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	FeeSpent  string `json:"feeSpentWei,omitempty"`
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var payload relayRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.Capability == "" {
		http.Error(w, "capability is required", http.StatusBadRequest)
		return
	}
	if payload.RequestID == "" {
		payload.RequestID = r.Header.Get("X-Request-Id")
	}

	start := time.Now()
	outcome := s.engine.Relay(r.Context(), relay.Request{
		ID:         payload.RequestID,
		Capability: payload.Capability,
		Args:       payload.Args,
	})
	s.metrics.incRelay(string(outcome.Status))
	if outcome.Status == relay.StatusConfirmed {
		s.metrics.observeConfirmation(time.Since(start).Seconds())
	}

	resp := relayResponse{
		RequestID: payload.RequestID,
		Status:    string(outcome.Status),
		Reason:    outcome.Reason,
		TxHash:    outcome.TxHash,
	}
	if outcome.FeeSpent != nil {
		resp.FeeSpent = outcome.FeeSpent.String()
	}

	writeJSON(w, statusCodeFor(outcome), resp)
}

// statusCodeFor maps outcome variants to transport-level status. A
// confirmation timeout is distinct from a definite failure: the transaction
// may still land later.
func statusCodeFor(out relay.Outcome) int {
	switch out.Status {
	case relay.StatusConfirmed:
		return http.StatusOK
	case relay.StatusRejected:
		switch out.Reason {
		case relay.ReasonInvalidRequest, relay.ReasonUnknownCapability:
			return http.StatusBadRequest
		default:
			return http.StatusUnprocessableEntity
		}
	case relay.StatusFailed:
		if out.Reason == relay.ReasonConfirmationTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusAccepted
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.monitor.Status(r.Context())

	resp := struct {
		balance.Status
		Network struct {
			Name    string `json:"name"`
			ChainID string `json:"chainId"`
		} `json:"network"`
	}{Status: status}
	resp.Network.Name = s.identity.Name
	if s.identity.ChainID != nil {
		resp.Network.ChainID = s.identity.ChainID.String()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	recs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.log.Warn("history read failed", zap.Error(err))
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, err := s.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			s.log.Warn("rate limiter error", zap.Error(err))
		}
		if !allowed {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		w.Header().Set("X-Request-Id", r.Header.Get("X-Request-Id"))
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
