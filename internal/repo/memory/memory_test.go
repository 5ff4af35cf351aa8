package memory

import (
	"context"
	"testing"
	"time"

	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/repo"
	"github.com/hamed0406/uptimesentry/internal/repo/repotest"
)

func TestMemoryStore_Contract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.Store { return New() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := &domain.Account{Email: "x@example.com", SubscriptionStatus: domain.SubscriptionTrialing, TrialEndsAt: time.Now().Add(time.Hour)}
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	e := &domain.Endpoint{AccountID: a.ID, URL: "https://example.com"}
	if err := s.CreateEndpoint(ctx, e, 3); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	got, _ := s.GetEndpoint(ctx, e.ID)
	got.Status = domain.StatusDown
	again, _ := s.GetEndpoint(ctx, e.ID)
	if again.Status != domain.StatusUnknown {
		t.Fatalf("caller mutation leaked into store: %s", again.Status)
	}
}
