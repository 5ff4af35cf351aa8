package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/httpapi/middleware"
	"github.com/hamed0406/uptimesentry/internal/probe"
	"github.com/hamed0406/uptimesentry/internal/repo"
)

type addPayload struct {
	URL string `json:"url"`
}

type addResponse struct {
	Endpoint domain.Endpoint  `json:"endpoint"`
	Result   *probe.Result    `json:"result,omitempty"`
	DNS      *probe.DNSStatus `json:"dns,omitempty"`
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	a, _ := middleware.AccountFrom(r.Context())
	eps, err := s.Store.ListEndpoints(r.Context(), a.ID)
	if err != nil {
		s.Logger.Error("list_endpoints_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list error")
		return
	}
	if eps == nil {
		eps = []domain.Endpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

func (s *Server) handleAddEndpoint(w http.ResponseWriter, r *http.Request) {
	a, _ := middleware.AccountFrom(r.Context())

	var p addPayload
	if err := decode(w, r, &p); err != nil || p.URL == "" {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	addr, err := domain.NormalizeAddress(p.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ep := &domain.Endpoint{
		AccountID: a.ID,
		URL:       addr,
		Status:    domain.StatusUnknown,
		CreatedAt: s.Clock.Now(),
	}
	if err := s.Store.CreateEndpoint(r.Context(), ep, s.Opts.MaxEndpoints); err != nil {
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			writeError(w, http.StatusConflict, "endpoint already monitored")
		case errors.Is(err, repo.ErrLimitReached):
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("endpoint limit of %d reached", s.Opts.MaxEndpoints))
		case errors.Is(err, repo.ErrNotFound):
			writeError(w, http.StatusUnauthorized, "unauthorized")
		default:
			s.Logger.Error("add_endpoint_error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not add")
		}
		return
	}

	// Run a single check synchronously for immediate feedback. The endpoint
	// starts UNKNOWN, so this check can never notify.
	resp := addResponse{Endpoint: *ep}
	out, err := s.Checker.Check(r.Context(), a, *ep)
	if err != nil {
		s.Logger.Warn("initial_check_error", zap.String("endpoint_id", string(ep.ID)), zap.Error(err))
		writeJSON(w, http.StatusCreated, resp)
		return
	}
	resp.Endpoint = out.Endpoint
	resp.Result = &out.Result

	// If HTTP check fails, classify DNS for the caller.
	if !out.Result.Up() && s.Diagnose != nil {
		dns := s.Diagnose(addr)
		resp.DNS = &dns
		resp.Result.Reason = strings.TrimSpace(out.Result.Reason + " dns=" + dns.Class)
		s.Logger.Info("dns_check",
			zap.String("domain", dns.Domain),
			zap.String("class", dns.Class),
			zap.Any("ips", dns.IPs),
			zap.Strings("nameservers", dns.Nameservers),
			zap.String("resolver_error", dns.ResolverError),
		)
	}

	s.Logger.Info("added_endpoint",
		zap.String("account_id", string(a.ID)),
		zap.String("url", addr),
		zap.String("status", string(resp.Endpoint.Status)),
	)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	a, _ := middleware.AccountFrom(r.Context())
	id := domain.EndpointID(chi.URLParam(r, "id"))
	err := s.Store.DeleteEndpoint(r.Context(), a.ID, id)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}
	if err != nil {
		s.Logger.Error("delete_endpoint_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not delete")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
