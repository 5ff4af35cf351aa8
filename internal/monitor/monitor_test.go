package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimesentry/internal/clock"
	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/notify"
	"github.com/hamed0406/uptimesentry/internal/probe"
	"github.com/hamed0406/uptimesentry/internal/repo"
	"github.com/hamed0406/uptimesentry/internal/repo/memory"
)

// --- fakes ---

type scriptedProber struct {
	mu       sync.Mutex
	verdicts []domain.Verdict
	before   func()
}

func (s *scriptedProber) Probe(ctx context.Context, target string) probe.Result {
	if s.before != nil {
		s.before()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.verdicts[0]
	if len(s.verdicts) > 1 {
		s.verdicts = s.verdicts[1:]
	}
	if v == domain.VerdictUp {
		return probe.Result{Verdict: v, StatusCode: 200, Reason: "200 OK"}
	}
	return probe.Result{Verdict: v, Reason: "request timed out"}
}

type recordAlerter struct {
	mu   sync.Mutex
	sent []notify.Down
	err  error
}

func (r *recordAlerter) NotifyDown(_ context.Context, d notify.Down) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, d)
	return r.err
}

func setup(t *testing.T, verdicts ...domain.Verdict) (*Monitor, *memory.Store, *recordAlerter, *clock.Manual, domain.Account, domain.Endpoint) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	a := &domain.Account{Email: "owner@example.com", SubscriptionStatus: domain.SubscriptionTrialing, TrialEndsAt: clk.Now().Add(7 * 24 * time.Hour)}
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	e := &domain.Endpoint{AccountID: a.ID, URL: "https://example.com"}
	if err := s.CreateEndpoint(ctx, e, 3); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	al := &recordAlerter{}
	m := New(s, &scriptedProber{verdicts: verdicts}, al, clk, zap.NewNop())
	return m, s, al, clk, *a, *e
}

// --- tests ---

func TestCheck_FirstCheckUpDoesNotNotify(t *testing.T) {
	m, s, al, clk, a, e := setup(t, domain.VerdictUp)

	out, err := m.Check(context.Background(), a, e)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if out.Endpoint.Status != domain.StatusUp || out.Notified || len(al.sent) != 0 {
		t.Fatalf("want UP without notification: %+v (sent %d)", out, len(al.sent))
	}
	stored, _ := s.GetEndpoint(context.Background(), e.ID)
	if stored.LastChecked == nil || !stored.LastChecked.Equal(clk.Now()) {
		t.Fatalf("last_checked not recorded: %+v", stored)
	}
	if stored.LastTransition == nil || !stored.LastTransition.Equal(clk.Now()) {
		t.Fatalf("UNKNOWN->UP is a transition: %+v", stored)
	}
}

func TestCheck_FirstCheckDownDoesNotNotify(t *testing.T) {
	m, _, al, _, a, e := setup(t, domain.VerdictDown)

	out, err := m.Check(context.Background(), a, e)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if out.Endpoint.Status != domain.StatusDown || !out.Transition.Changed || out.Transition.ShouldNotify {
		t.Fatalf("UNKNOWN->DOWN must not notify: %+v", out.Transition)
	}
	if len(al.sent) != 0 {
		t.Fatalf("unexpected notification")
	}
}

func TestCheck_UpToDownNotifiesExactlyOnce(t *testing.T) {
	m, s, al, clk, a, e := setup(t, domain.VerdictUp, domain.VerdictDown, domain.VerdictDown)
	ctx := context.Background()

	if _, err := m.Check(ctx, a, e); err != nil {
		t.Fatal(err)
	}
	upAt := clk.Now()
	clk.Advance(5 * time.Minute)

	out, err := m.Check(ctx, a, e)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Notified || len(al.sent) != 1 {
		t.Fatalf("want one notification, got %d", len(al.sent))
	}
	d := al.sent[0]
	if d.Account.Email != "owner@example.com" || d.Endpoint.Status != domain.StatusDown {
		t.Fatalf("notification content: %+v", d)
	}
	if d.UpSince == nil || !d.UpSince.Equal(upAt) {
		t.Fatalf("UpSince = %v, want %v", d.UpSince, upAt)
	}
	stored, _ := s.GetEndpoint(ctx, e.ID)
	if !stored.LastTransition.Equal(clk.Now()) {
		t.Fatalf("last_transition must move to the DOWN time")
	}

	clk.Advance(5 * time.Minute)
	if _, err := m.Check(ctx, a, e); err != nil {
		t.Fatal(err)
	}
	if len(al.sent) != 1 {
		t.Fatalf("repeated DOWN must not notify again, got %d", len(al.sent))
	}
	stored, _ = s.GetEndpoint(ctx, e.ID)
	if !stored.LastChecked.Equal(clk.Now()) || stored.LastTransition.Equal(clk.Now()) {
		t.Fatalf("steady DOWN advances last_checked only: %+v", stored)
	}
}

func TestCheck_NotifyFailureKeepsDown(t *testing.T) {
	m, s, al, _, a, e := setup(t, domain.VerdictUp, domain.VerdictDown, domain.VerdictDown)
	al.err = errors.New("smtp unreachable")
	ctx := context.Background()

	_, _ = m.Check(ctx, a, e)
	out, err := m.Check(ctx, a, e)
	if err != nil {
		t.Fatalf("notification failure must not surface as an error: %v", err)
	}
	if out.Notified || out.NotifyErr == nil {
		t.Fatalf("outcome should report the failed delivery: %+v", out)
	}
	stored, _ := s.GetEndpoint(ctx, e.ID)
	if stored.Status != domain.StatusDown {
		t.Fatalf("status must stay DOWN, got %s", stored.Status)
	}

	// The transition is not replayed on the next check.
	_, _ = m.Check(ctx, a, e)
	if len(al.sent) != 1 {
		t.Fatalf("want a single attempt, got %d", len(al.sent))
	}
}

func TestCheck_DeletedDuringProbeIsNotResurrected(t *testing.T) {
	m, s, al, _, a, e := setup(t, domain.VerdictDown)
	m.Prober.(*scriptedProber).before = func() {
		_ = s.DeleteEndpoint(context.Background(), a.ID, e.ID)
	}

	_, err := m.Check(context.Background(), a, e)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := s.GetEndpoint(context.Background(), e.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("endpoint reappeared: %v", err)
	}
	if len(al.sent) != 0 {
		t.Fatalf("no notification for a deleted endpoint")
	}
}

func TestCheck_CancelledDuringProbeWritesNothing(t *testing.T) {
	m, s, _, _, a, e := setup(t, domain.VerdictDown)
	ctx, cancel := context.WithCancel(context.Background())
	m.Prober.(*scriptedProber).before = cancel

	if _, err := m.Check(ctx, a, e); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	stored, _ := s.GetEndpoint(context.Background(), e.ID)
	if stored.Status != domain.StatusUnknown || stored.LastChecked != nil {
		t.Fatalf("cancelled check must not be recorded: %+v", stored)
	}
}
