package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/risk-screener/internal/id/uuid"
	"github.com/JakeFAU/risk-screener/internal/metrics"
	"github.com/JakeFAU/risk-screener/internal/screening"
)

// ScreeningService is the application layer behind the handlers.
type ScreeningService interface {
	Screen(ctx context.Context, rawName string, rawSources []string) (screening.Report, error)
	Get(ctx context.Context, id string) (screening.Report, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps groups the collaborators of a Server.
type Deps struct {
	Service ScreeningService
	Limiter screening.RateLimiter
	Clock   screening.Clock
	Logger  *zap.Logger
	Ready   map[string]ReadinessCheck
}

// Options tunes transport behavior.
type Options struct {
	// APIKey, when set, is required on every route except probes and metrics.
	APIKey string
	// JWTSecret enables HS256 bearer-token client identities.
	JWTSecret string
	// RequestTimeout bounds each request's context. Zero disables it.
	RequestTimeout time.Duration
	// DefaultSources applies when a screening request omits sources.
	DefaultSources []string
	Version        string
}

// Server wires HTTP handlers to the screening service and rate limiter.
type Server struct {
	router   chi.Router
	service  ScreeningService
	limiter  screening.RateLimiter
	clock    screening.Clock
	logger   *zap.Logger
	ready    map[string]ReadinessCheck
	verifier *tokenVerifier
	opts     Options
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if len(opts.DefaultSources) == 0 {
		opts.DefaultSources = []string{screening.SourceOffshoreLeaks.String()}
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	s := &Server{
		service:  deps.Service,
		limiter:  deps.Limiter,
		clock:    deps.Clock,
		logger:   deps.Logger.Named("api"),
		ready:    deps.Ready,
		verifier: newTokenVerifier(opts.JWTSecret),
		opts:     opts,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/api/screening/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(s.apiKeyMiddleware(opts.APIKey))
		}
		r.Use(s.identityMiddleware)
		if opts.RequestTimeout > 0 {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
		}

		r.Route("/v1", func(r chi.Router) {
			r.With(s.rateLimitMiddleware).Post("/screenings", s.screen)
			r.Get("/screenings/{id}", s.getScreening)
			r.Get("/ratelimit", s.rateLimitStatus)
		})
		r.With(s.rateLimitMiddleware).Post("/api/screening/screen", s.screen)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: s.clock.Now(),
		Version:   s.opts.Version,
	})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := readinessResponse{Status: "ready"}
	status := http.StatusOK
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			if resp.Checks == nil {
				resp.Checks = map[string]string{}
			}
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) screen(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}
	sources := req.Sources
	if sources == nil {
		sources = s.opts.DefaultSources
	}

	report, err := s.service.Screen(r.Context(), req.EntityName, sources)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toScreeningResponse(report))
}

func (s *Server) getScreening(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !uuid.Valid(id) {
		s.writeError(w, http.StatusNotFound, "screening not found", nil)
		return
	}
	report, err := s.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, screening.ErrReportNotFound) {
			s.writeError(w, http.StatusNotFound, "screening not found", nil)
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toScreeningResponse(report))
}

func (s *Server) rateLimitStatus(w http.ResponseWriter, r *http.Request) {
	clientID := ClientID(r.Context())
	if s.limiter == nil {
		s.writeError(w, http.StatusNotFound, "rate limiting is disabled", nil)
		return
	}
	remaining, err := s.limiter.Remaining(r.Context(), clientID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rateLimitResponse{
		ClientID:  clientID,
		Limit:     s.limiter.Limit(),
		Remaining: remaining,
	})
}

// writeServiceError maps service and limiter errors to HTTP responses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := s.logger.With(zap.String("request_id", RequestID(r.Context())), zap.Error(err))
	switch {
	case screening.IsInvalidInput(err):
		field := "entityName"
		if errors.Is(err, screening.ErrInvalidSources) {
			field = "sources"
		}
		s.writeError(w, http.StatusBadRequest, "Validation failed",
			[]any{fieldError{PropertyName: field, ErrorMessage: err.Error()}})
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// The client went away; there is nobody to answer.
		logger.Info("screening canceled by client")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("screening timed out")
		s.writeError(w, http.StatusServiceUnavailable, "screening timed out", nil)
	default:
		if rle, ok := screening.AsRateLimitExceeded(err); ok {
			s.writeRateLimited(w, rle)
			return
		}
		logger.Error("request failed")
		s.writeError(w, http.StatusInternalServerError, "An internal server error occurred", nil)
	}
}

func (s *Server) writeRateLimited(w http.ResponseWriter, rle *screening.RateLimitExceededError) {
	secs := rle.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	s.writeError(w, http.StatusTooManyRequests, rle.Error(), []any{retryAfterDetail{RetryAfter: secs}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string, details []any) {
	s.writeJSON(w, status, errorResponse{
		Status:    status,
		Message:   msg,
		Errors:    details,
		Timestamp: s.clock.Now(),
	})
}
