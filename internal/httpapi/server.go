package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimesentry/internal/clock"
	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/httpapi/middleware"
	"github.com/hamed0406/uptimesentry/internal/monitor"
	"github.com/hamed0406/uptimesentry/internal/probe"
	"github.com/hamed0406/uptimesentry/internal/repo"
	"github.com/hamed0406/uptimesentry/internal/scheduler"
)

type Tokens interface {
	Issue(id domain.AccountID) (string, error)
	Parse(raw string) (domain.AccountID, error)
}

type Checker interface {
	Check(ctx context.Context, acct domain.Account, ep domain.Endpoint) (monitor.Outcome, error)
}

type Sweeper interface {
	SweepOnce(ctx context.Context) (scheduler.Summary, error)
}

type Options struct {
	MaxEndpoints   int
	TrialPeriod    time.Duration
	AllowedOrigins []string
	AdminKeys      []string
	AuthRPM        int
	AuthBurst      int
	WSPushInterval time.Duration
}

type Server struct {
	Logger  *zap.Logger
	Store   repo.Store
	Gate    middleware.Entitlement
	Checker Checker
	Sweeper Sweeper
	Tokens  Tokens
	Clock   clock.Clock
	// Billing receives provider webhooks; the route is absent when nil.
	Billing http.Handler
	// Diagnose explains a failed first check; optional.
	Diagnose func(target string) probe.DNSStatus
	Opts     Options
}

func (s *Server) Router() http.Handler {
	if s.Clock == nil {
		s.Clock = clock.Real{}
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.Opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.Opts.AuthRPM, s.Opts.AuthBurst))
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
		})

		if s.Billing != nil {
			r.Method(http.MethodPost, "/billing/webhook", s.Billing)
		}

		if s.Sweeper != nil {
			r.With(middleware.RequireAdmin(s.Opts.AdminKeys)).Post("/admin/sweep", s.handleSweep)
		}

		// Identity first, then entitlement where the route needs it.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAccount(s.Tokens, s.Store))
			r.Get("/account", s.handleGetAccount)
			r.Delete("/account", s.handleDeleteAccount)
			r.Delete("/endpoints/{id}", s.handleDeleteEndpoint)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireEntitled(s.Gate, s.Clock))
				r.Get("/endpoints", s.handleListEndpoints)
				r.Post("/endpoints", s.handleAddEndpoint)
				r.Get("/ws", s.handleFeed)
			})
		})
	})

	return r
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	// The sweep outlives a disconnecting client.
	sum, err := s.Sweeper.SweepOnce(context.WithoutCancel(r.Context()))
	if errors.Is(err, scheduler.ErrSweepInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.Logger.Warn("manual_sweep_failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// decode reads a small JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
