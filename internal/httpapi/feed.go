package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/httpapi/middleware"
)

const (
	feedWriteTimeout = 5 * time.Second
	feedDefaultPush  = 5 * time.Second
)

type feedSnapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Entitled    bool              `json:"entitled"`
	Endpoints   []domain.Endpoint `json:"endpoints"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range s.Opts.AllowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
}

// handleFeed pushes the caller's endpoint list on connect and then every
// WSPushInterval. The feed ends when the client goes away or the account
// stops being entitled.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	a, _ := middleware.AccountFrom(r.Context())
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveFeed(r.Context(), conn, a.ID)
}

func (s *Server) serveFeed(ctx context.Context, conn *websocket.Conn, id domain.AccountID) {
	defer conn.Close()
	log := s.Logger.With(zap.String("account_id", string(id)))

	snap, ok := s.buildSnapshot(ctx, id)
	if err := writeFeed(conn, snap); err != nil || !ok {
		return
	}

	interval := s.Opts.WSPushInterval
	if interval <= 0 {
		interval = feedDefaultPush
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			snap, ok := s.buildSnapshot(ctx, id)
			if err := writeFeed(conn, snap); err != nil {
				return
			}
			if !ok {
				log.Info("feed_closed", zap.String("reason", "not entitled"))
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscription required"),
					time.Now().Add(feedWriteTimeout))
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// buildSnapshot re-reads the account so entitlement is evaluated per push.
// ok is false when the feed should stop.
func (s *Server) buildSnapshot(ctx context.Context, id domain.AccountID) (feedSnapshot, bool) {
	now := s.Clock.Now()
	snap := feedSnapshot{GeneratedAt: now, Endpoints: []domain.Endpoint{}}
	a, err := s.Store.GetAccount(ctx, id)
	if err != nil {
		return snap, false
	}
	snap.Entitled = s.Gate.Allowed(*a, now)
	if !snap.Entitled {
		return snap, false
	}
	eps, err := s.Store.ListEndpoints(ctx, id)
	if err != nil {
		s.Logger.Warn("feed_list_error", zap.Error(err))
		return snap, true
	}
	if eps != nil {
		snap.Endpoints = eps
	}
	return snap, true
}

func writeFeed(conn *websocket.Conn, snap feedSnapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return conn.WriteJSON(snap)
}
