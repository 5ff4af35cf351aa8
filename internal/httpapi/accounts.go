package httpapi

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimesentry/internal/auth"
	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/httpapi/middleware"
	"github.com/hamed0406/uptimesentry/internal/repo"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountView struct {
	Account  domain.Account `json:"account"`
	Entitled bool           `json:"entitled"`
	Token    string         `json:"token,omitempty"`
}

func normalizeEmail(raw string) (string, bool) {
	e := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e {
		return "", false
	}
	return e, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var p credentials
	if err := decode(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	email, ok := normalizeEmail(p.Email)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}
	hash, err := auth.HashPassword(p.Password)
	if errors.Is(err, auth.ErrWeakPassword) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.Logger.Error("register_hash_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not register")
		return
	}

	now := s.Clock.Now()
	a := &domain.Account{
		Email:              email,
		PasswordHash:       hash,
		CreatedAt:          now,
		TrialEndsAt:        now.Add(s.Opts.TrialPeriod),
		SubscriptionStatus: domain.SubscriptionTrialing,
	}
	if err := s.Store.CreateAccount(r.Context(), a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		s.Logger.Error("register_store_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not register")
		return
	}
	tok, err := s.Tokens.Issue(a.ID)
	if err != nil {
		s.Logger.Error("token_issue_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	s.Logger.Info("account_registered",
		zap.String("account_id", string(a.ID)),
		zap.Time("trial_ends_at", a.TrialEndsAt),
	)
	writeJSON(w, http.StatusCreated, accountView{Account: *a, Entitled: s.Gate.Allowed(*a, now), Token: tok})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var p credentials
	if err := decode(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	email, _ := normalizeEmail(p.Email)
	a, err := s.Store.GetAccountByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		s.Logger.Error("login_store_error", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "try again later")
		return
	}
	if a == nil || auth.CheckPassword(a.PasswordHash, p.Password) != nil {
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidPassword.Error())
		return
	}
	tok, err := s.Tokens.Issue(a.ID)
	if err != nil {
		s.Logger.Error("token_issue_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, accountView{Account: *a, Entitled: s.Gate.Allowed(*a, s.Clock.Now()), Token: tok})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, _ := middleware.AccountFrom(r.Context())
	writeJSON(w, http.StatusOK, accountView{Account: a, Entitled: s.Gate.Allowed(a, s.Clock.Now())})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	a, _ := middleware.AccountFrom(r.Context())
	if err := s.Store.DeleteAccount(r.Context(), a.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		s.Logger.Error("delete_account_error", zap.String("account_id", string(a.ID)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not delete account")
		return
	}
	s.Logger.Info("account_deleted", zap.String("account_id", string(a.ID)))
	w.WriteHeader(http.StatusNoContent)
}
