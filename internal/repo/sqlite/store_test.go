package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/repo"
	"github.com/hamed0406/uptimesentry/internal/repo/repotest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "data", "uptime.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.Store { return openTemp(t) })
}

func TestSQLiteStore_ReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "uptime.db")

	s, err := New(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a := &domain.Account{
		Email:              "keep@example.com",
		PasswordHash:       "h",
		TrialEndsAt:        time.Now().Add(time.Hour),
		SubscriptionStatus: domain.SubscriptionTrialing,
	}
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	e := &domain.Endpoint{AccountID: a.ID, URL: "https://example.com"}
	if err := s.CreateEndpoint(ctx, e, 3); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	_ = s.Close()

	s2, err := New(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.GetEndpoint(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEndpoint after reopen: %v", err)
	}
	if got.Status != domain.StatusUnknown || got.LastChecked != nil || got.LastTransition != nil {
		t.Fatalf("fresh endpoint must be UNKNOWN with null timestamps: %+v", got)
	}
}

func TestSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
