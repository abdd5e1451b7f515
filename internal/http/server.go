// Package http is the JSON API over the ledger services. The caller is
// identified by the X-User-ID header; all routes except user creation and the
// health probes require it.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"tally/internal/cache"
	"tally/internal/core"
	"tally/internal/ledger"
	"tally/internal/log"
	"tally/internal/services"
)

type Server struct {
	http.Server

	store        ledger.Store
	transactions *services.TransactionService
	rules        *services.RuleService
	aggregator   *services.Aggregator
	materializer *services.Materializer
	analytics    *services.Analytics

	rateLimiter  *rateLimiter
	balanceCache *cache.LRUCache[core.MonthlyBalance]
	cacheManager *cache.Manager
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, store ledger.Store, tx *services.TransactionService, rules *services.RuleService, agg *services.Aggregator, mat *services.Materializer, an *services.Analytics) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:        store,
		transactions: tx,
		rules:        rules,
		aggregator:   agg,
		materializer: mat,
		analytics:    an,
		rateLimiter:  newRateLimiter(),
		balanceCache: cache.NewLRUCache[core.MonthlyBalance](500, 5*time.Minute),
		cacheManager: cache.NewManager(),
	}
	s.cacheManager.Register(s.balanceCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /users", s.wrap(s.handleCreateUser))

	mux.HandleFunc("GET /categories", s.wrap(s.handleListCategories))
	mux.HandleFunc("POST /categories", s.wrap(s.handleCreateCategory))

	mux.HandleFunc("POST /transactions", s.wrap(s.handleCreateTransaction))
	mux.HandleFunc("GET /transactions", s.wrap(s.handleListTransactions))
	mux.HandleFunc("GET /transactions/{id}", s.wrap(s.handleGetTransaction))
	mux.HandleFunc("PUT /transactions/{id}", s.wrap(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /transactions/{id}", s.wrap(s.handleDeleteTransaction))

	mux.HandleFunc("GET /balance", s.wrap(s.handleGetBalance))
	mux.HandleFunc("POST /balance/recompute", s.wrap(s.handleRecomputeBalance))
	mux.HandleFunc("PUT /balance/override", s.wrap(s.handleSetOverride))
	mux.HandleFunc("DELETE /balance/override", s.wrap(s.handleClearOverride))

	mux.HandleFunc("GET /summary", s.wrap(s.handleSummary))

	mux.HandleFunc("POST /rules", s.wrap(s.handleCreateRule))
	mux.HandleFunc("GET /rules", s.wrap(s.handleListRules))
	mux.HandleFunc("GET /rules/{id}", s.wrap(s.handleGetRule))
	mux.HandleFunc("PUT /rules/{id}", s.wrap(s.handleUpdateRule))
	mux.HandleFunc("DELETE /rules/{id}", s.wrap(s.handleDeactivateRule))
	mux.HandleFunc("POST /rules/materialize", s.wrap(s.handleMaterialize))

	return s
}

// Shutdown stops the cleanup goroutines along with the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		s.cacheManager.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// wrap adds security headers, request logging, a request id and rate limiting
// on mutations.
func (s *Server) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(r.Context(), "Rate limit exceeded",
				log.FieldRequestID, requestID,
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldComponent, log.ComponentRateLimit)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: "rate limit exceeded",
				Kind:  "rate_limit",
			})
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(r.Context(), "Request completed",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, time.Since(start).Milliseconds(),
			log.FieldClientIP, clientIP,
			log.FieldComponent, log.ComponentHTTP)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.User(r.Context(), 1); err != nil && core.IsStorage(err) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("storage unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// userID reads the caller's identity from the X-User-ID header.
func userID(r *http.Request) (int64, error) {
	v := r.Header.Get("X-User-ID")
	if v == "" {
		return 0, fmt.Errorf("%w: missing X-User-ID header", core.ErrValidation)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: invalid X-User-ID header", core.ErrValidation)
	}
	return id, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: invalid id", core.ErrValidation)
	}
	return id, nil
}

// monthParam reads year and month query parameters, defaulting to the current
// month when both are absent.
func monthParam(r *http.Request) (core.Month, error) {
	ys := r.URL.Query().Get("year")
	ms := r.URL.Query().Get("month")
	if ys == "" && ms == "" {
		now := time.Now()
		return core.Month{Year: now.Year(), Month: int(now.Month())}, nil
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return core.Month{}, fmt.Errorf("%w: invalid year", core.ErrValidation)
	}
	m, err := strconv.Atoi(ms)
	if err != nil {
		return core.Month{}, fmt.Errorf("%w: invalid month", core.ErrValidation)
	}
	month := core.Month{Year: y, Month: m}
	if err := month.Validate(); err != nil {
		return core.Month{}, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	return month, nil
}

func (s *Server) balanceCacheKey(userID int64, month core.Month) string {
	return fmt.Sprintf("balance:%d:%d-%02d", userID, month.Year, month.Month)
}

// invalidateBalances drops every cached month of the user. A single write can
// move any number of later closings, so per-month invalidation is not enough.
func (s *Server) invalidateBalances(userID int64) {
	s.balanceCache.DeletePrefix(fmt.Sprintf("balance:%d:", userID))
}
