// Package repotest holds the behaviour every repo.Store adapter must share.
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/repo"
)

// Run exercises a fresh store returned by open for every subtest.
func Run(t *testing.T, open func(t *testing.T) repo.Store) {
	t.Run("accounts", func(t *testing.T) { testAccounts(t, open(t)) })
	t.Run("subscription", func(t *testing.T) { testSubscription(t, open(t)) })
	t.Run("endpoint_cap", func(t *testing.T) { testEndpointCap(t, open(t)) })
	t.Run("update_endpoint", func(t *testing.T) { testUpdateEndpoint(t, open(t)) })
	t.Run("delete_cascades", func(t *testing.T) { testDeleteCascades(t, open(t)) })
	t.Run("concurrent_updates", func(t *testing.T) { testConcurrentUpdates(t, open(t)) })
}

func newAccount(t *testing.T, s repo.Store, email string) *domain.Account {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	a := &domain.Account{
		Email:              email,
		PasswordHash:       "hash",
		CreatedAt:          now,
		TrialEndsAt:        now.Add(7 * 24 * time.Hour),
		SubscriptionStatus: domain.SubscriptionTrialing,
	}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if a.ID == "" {
		t.Fatalf("expected account ID to be set")
	}
	return a
}

func testAccounts(t *testing.T, s repo.Store) {
	ctx := context.Background()
	a := newAccount(t, s, "a@example.com")

	if err := s.CreateAccount(ctx, &domain.Account{Email: "a@example.com", SubscriptionStatus: domain.SubscriptionTrialing}); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("duplicate email: want ErrDuplicate, got %v", err)
	}

	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Email != a.Email || got.SubscriptionStatus != domain.SubscriptionTrialing || !got.TrialEndsAt.Equal(a.TrialEndsAt) {
		t.Fatalf("account mismatch: %+v vs %+v", got, a)
	}
	if got.PasswordHash != "hash" {
		t.Fatalf("password hash not stored")
	}

	byEmail, err := s.GetAccountByEmail(ctx, "a@example.com")
	if err != nil || byEmail.ID != a.ID {
		t.Fatalf("GetAccountByEmail: %+v %v", byEmail, err)
	}
	if _, err := s.GetAccount(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing account: want ErrNotFound, got %v", err)
	}

	newAccount(t, s, "b@example.com")
	all, err := s.ListAccounts(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListAccounts: %d %v", len(all), err)
	}
}

func testSubscription(t *testing.T, s repo.Store) {
	ctx := context.Background()
	a := newAccount(t, s, "sub@example.com")

	if err := s.SetSubscription(ctx, a.ID, "cus_1", "sub_1", domain.SubscriptionActive); err != nil {
		t.Fatalf("SetSubscription: %v", err)
	}
	got, _ := s.GetAccount(ctx, a.ID)
	if got.SubscriptionStatus != domain.SubscriptionActive || got.SubscriptionRef != "sub_1" || got.CustomerRef != "cus_1" {
		t.Fatalf("subscription not recorded: %+v", got)
	}

	if err := s.SetSubscriptionStatus(ctx, "sub_1", domain.SubscriptionCancelled); err != nil {
		t.Fatalf("SetSubscriptionStatus: %v", err)
	}
	got, _ = s.GetAccount(ctx, a.ID)
	if got.SubscriptionStatus != domain.SubscriptionCancelled {
		t.Fatalf("want cancelled, got %s", got.SubscriptionStatus)
	}
	if err := s.SetSubscriptionStatus(ctx, "sub_unknown", domain.SubscriptionActive); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown subscription: want ErrNotFound, got %v", err)
	}
	if err := s.SetSubscription(ctx, "missing", "", "sub_x", domain.SubscriptionActive); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown account: want ErrNotFound, got %v", err)
	}
}

func testEndpointCap(t *testing.T, s repo.Store) {
	ctx := context.Background()
	a := newAccount(t, s, "cap@example.com")

	for i, u := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		e := &domain.Endpoint{AccountID: a.ID, URL: u}
		if err := s.CreateEndpoint(ctx, e, 3); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if e.ID == "" || e.Status != domain.StatusUnknown {
			t.Fatalf("create %d: unexpected record %+v", i, e)
		}
	}

	fourth := &domain.Endpoint{AccountID: a.ID, URL: "https://d.example"}
	if err := s.CreateEndpoint(ctx, fourth, 3); !errors.Is(err, repo.ErrLimitReached) {
		t.Fatalf("4th create: want ErrLimitReached, got %v", err)
	}
	list, err := s.ListEndpoints(ctx, a.ID)
	if err != nil || len(list) != 3 {
		t.Fatalf("after rejected create: want 3 endpoints, got %d %v", len(list), err)
	}
	for _, e := range list {
		if e.URL == "https://d.example" {
			t.Fatalf("rejected endpoint was stored")
		}
	}

	other := newAccount(t, s, "other@example.com")
	if err := s.CreateEndpoint(ctx, &domain.Endpoint{AccountID: other.ID, URL: "https://a.example"}, 3); err != nil {
		t.Fatalf("same URL for another account: %v", err)
	}
	if err := s.CreateEndpoint(ctx, &domain.Endpoint{AccountID: other.ID, URL: "https://a.example"}, 3); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("duplicate URL: want ErrDuplicate, got %v", err)
	}
}

func testUpdateEndpoint(t *testing.T, s repo.Store) {
	ctx := context.Background()
	a := newAccount(t, s, "upd@example.com")
	e := &domain.Endpoint{AccountID: a.ID, URL: "https://example.com"}
	if err := s.CreateEndpoint(ctx, e, 3); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	var tr domain.Transition
	got, err := s.UpdateEndpoint(ctx, e.ID, func(cur *domain.Endpoint) error {
		tr = cur.Apply(domain.VerdictUp, now)
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateEndpoint: %v", err)
	}
	if tr.From != domain.StatusUnknown || got.Status != domain.StatusUp {
		t.Fatalf("unexpected transition %+v record %+v", tr, got)
	}

	stored, err := s.GetEndpoint(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	if stored.Status != domain.StatusUp || stored.LastChecked == nil || !stored.LastChecked.Equal(now) {
		t.Fatalf("update not persisted: %+v", stored)
	}
	if stored.LastTransition == nil || !stored.LastTransition.Equal(now) {
		t.Fatalf("last_transition not persisted: %+v", stored)
	}

	boom := errors.New("boom")
	if _, err := s.UpdateEndpoint(ctx, e.ID, func(cur *domain.Endpoint) error {
		cur.Status = domain.StatusDown
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("want fn error, got %v", err)
	}
	stored, _ = s.GetEndpoint(ctx, e.ID)
	if stored.Status != domain.StatusUp {
		t.Fatalf("failed update must not write, got %s", stored.Status)
	}

	if err := s.DeleteEndpoint(ctx, "someone-else", e.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("delete by non-owner: want ErrNotFound, got %v", err)
	}
	if err := s.DeleteEndpoint(ctx, a.ID, e.ID); err != nil {
		t.Fatalf("DeleteEndpoint: %v", err)
	}
	called := false
	if _, err := s.UpdateEndpoint(ctx, e.ID, func(cur *domain.Endpoint) error {
		called = true
		return nil
	}); !errors.Is(err, repo.ErrNotFound) || called {
		t.Fatalf("update after delete: want ErrNotFound without calling fn, got %v called=%v", err, called)
	}
	if _, err := s.GetEndpoint(ctx, e.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted endpoint resurrected: %v", err)
	}
}

func testDeleteCascades(t *testing.T, s repo.Store) {
	ctx := context.Background()
	a := newAccount(t, s, "del@example.com")
	e := &domain.Endpoint{AccountID: a.ID, URL: "https://example.com"}
	if err := s.CreateEndpoint(ctx, e, 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteAccount(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if _, err := s.GetEndpoint(ctx, e.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("endpoint survived account deletion: %v", err)
	}
	if err := s.DeleteAccount(ctx, a.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

func testConcurrentUpdates(t *testing.T, s repo.Store) {
	ctx := context.Background()
	a := newAccount(t, s, "conc@example.com")
	e := &domain.Endpoint{AccountID: a.ID, URL: "https://example.com"}
	if err := s.CreateEndpoint(ctx, e, 3); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.UpdateEndpoint(ctx, e.ID, func(cur *domain.Endpoint) error {
		cur.Apply(domain.VerdictUp, time.Now())
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Many writers flip the same record to DOWN; exactly one of them may see
	// the UP->DOWN transition.
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		notifies int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var tr domain.Transition
			_, err := s.UpdateEndpoint(ctx, e.ID, func(cur *domain.Endpoint) error {
				tr = cur.Apply(domain.VerdictDown, time.Now())
				return nil
			})
			if err != nil {
				t.Errorf("UpdateEndpoint: %v", err)
				return
			}
			if tr.ShouldNotify {
				mu.Lock()
				notifies++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if notifies != 1 {
		t.Fatalf("want exactly one UP->DOWN transition, got %d", notifies)
	}
}
