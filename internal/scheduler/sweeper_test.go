package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimesentry/internal/clock"
	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/entitlement"
	"github.com/hamed0406/uptimesentry/internal/monitor"
	"github.com/hamed0406/uptimesentry/internal/notify"
	"github.com/hamed0406/uptimesentry/internal/probe"
	"github.com/hamed0406/uptimesentry/internal/repo/memory"
)

// --- fakes ---

// verdictProber answers with a per-URL verdict, UP by default.
type verdictProber struct {
	mu    sync.Mutex
	down  map[string]bool
	calls atomic.Int64
}

func (p *verdictProber) set(url string, down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down == nil {
		p.down = map[string]bool{}
	}
	p.down[url] = down
}

func (p *verdictProber) Probe(ctx context.Context, target string) probe.Result {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down[target] {
		return probe.Result{Verdict: domain.VerdictDown, Reason: "request timed out"}
	}
	return probe.Result{Verdict: domain.VerdictUp, StatusCode: 200}
}

type countAlerter struct{ n atomic.Int64 }

func (c *countAlerter) NotifyDown(context.Context, notify.Down) error {
	c.n.Add(1)
	return nil
}

type env struct {
	store   *memory.Store
	clk     *clock.Manual
	prober  *verdictProber
	alerter *countAlerter
	sweeper *Sweeper
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:   memory.New(),
		clk:     clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		prober:  &verdictProber{},
		alerter: &countAlerter{},
	}
	mon := monitor.New(e.store, e.prober, e.alerter, e.clk, zap.NewNop())
	e.sweeper = NewSweeper(zap.NewNop(), entitlement.New(e.store), e.store, mon, e.clk, time.Hour, 4)
	return e
}

func (e *env) account(t *testing.T, email string, status domain.SubscriptionStatus, trialEnd time.Time) domain.Account {
	t.Helper()
	a := &domain.Account{Email: email, SubscriptionStatus: status, TrialEndsAt: trialEnd}
	if err := e.store.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return *a
}

func (e *env) endpoint(t *testing.T, owner domain.AccountID, url string) domain.Endpoint {
	t.Helper()
	ep := &domain.Endpoint{AccountID: owner, URL: url}
	if err := e.store.CreateEndpoint(context.Background(), ep, 3); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	return *ep
}

func (e *env) get(t *testing.T, id domain.EndpointID) domain.Endpoint {
	t.Helper()
	ep, err := e.store.GetEndpoint(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	return *ep
}

// --- tests ---

func TestSweep_UpToDownNotifiesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.account(t, "a@example.com", domain.SubscriptionActive, time.Time{})
	ep := e.endpoint(t, a.ID, "https://a.example")

	if _, err := e.sweeper.SweepOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if got := e.get(t, ep.ID); got.Status != domain.StatusUp {
		t.Fatalf("first sweep: want UP, got %s", got.Status)
	}

	e.prober.set("https://a.example", true)
	e.clk.Advance(5 * time.Minute)
	sum, err := e.sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := e.get(t, ep.ID)
	if got.Status != domain.StatusDown || !got.LastTransition.Equal(e.clk.Now()) {
		t.Fatalf("want DOWN with fresh last_transition: %+v", got)
	}
	if sum.Notified != 1 || e.alerter.n.Load() != 1 {
		t.Fatalf("want exactly one notification, summary=%+v alerts=%d", sum, e.alerter.n.Load())
	}

	e.clk.Advance(5 * time.Minute)
	if _, err := e.sweeper.SweepOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if e.alerter.n.Load() != 1 {
		t.Fatalf("steady DOWN must not notify again")
	}
}

func TestSweep_ExpiredTrialIsExcluded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.account(t, "t@example.com", domain.SubscriptionTrialing, e.clk.Now().Add(7*24*time.Hour))
	ep := e.endpoint(t, a.ID, "https://t.example")

	if _, err := e.sweeper.SweepOnce(ctx); err != nil {
		t.Fatal(err)
	}
	checked := *e.get(t, ep.ID).LastChecked

	e.clk.Advance(7*24*time.Hour + time.Second)
	sum, err := e.sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Accounts != 0 || sum.Checked != 0 {
		t.Fatalf("expired trial should not be swept: %+v", sum)
	}
	if got := e.get(t, ep.ID); !got.LastChecked.Equal(checked) {
		t.Fatalf("last_checked advanced for an ineligible account")
	}
}

func TestSweep_CancelledSubscriptionIsExcluded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.account(t, "c@example.com", domain.SubscriptionActive, time.Time{})
	if err := e.store.SetSubscription(ctx, a.ID, "cus_1", "sub_1", domain.SubscriptionActive); err != nil {
		t.Fatal(err)
	}
	e.endpoint(t, a.ID, "https://c.example")

	if sum, _ := e.sweeper.SweepOnce(ctx); sum.Checked != 1 {
		t.Fatalf("active account should be swept: %+v", sum)
	}
	if err := e.store.SetSubscriptionStatus(ctx, "sub_1", domain.SubscriptionCancelled); err != nil {
		t.Fatal(err)
	}
	calls := e.prober.calls.Load()
	if sum, _ := e.sweeper.SweepOnce(ctx); sum.Checked != 0 {
		t.Fatalf("cancelled account should be skipped: %+v", sum)
	}
	if e.prober.calls.Load() != calls {
		t.Fatalf("no probe expected after cancellation")
	}
}

// blockingChecker holds every check until release is closed.
type blockingChecker struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingChecker) Check(ctx context.Context, a domain.Account, ep domain.Endpoint) (monitor.Outcome, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return monitor.Outcome{Endpoint: ep}, nil
}

func TestSweep_OverlappingSweepIsRejected(t *testing.T) {
	e := newEnv(t)
	a := e.account(t, "o@example.com", domain.SubscriptionActive, time.Time{})
	e.endpoint(t, a.ID, "https://o.example")

	bc := &blockingChecker{entered: make(chan struct{}), release: make(chan struct{})}
	e.sweeper.Checker = bc

	done := make(chan error, 1)
	go func() {
		_, err := e.sweeper.SweepOnce(context.Background())
		done <- err
	}()
	<-bc.entered

	if _, err := e.sweeper.SweepOnce(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("want ErrSweepInProgress, got %v", err)
	}
	close(bc.release)
	if err := <-done; err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if _, err := e.sweeper.SweepOnce(context.Background()); err != nil {
		t.Fatalf("lock must be released after a sweep: %v", err)
	}
}

type failingGate struct{}

func (failingGate) EligibleAccounts(context.Context, time.Time) ([]domain.Account, error) {
	return nil, errors.New("accounts unavailable")
}

func TestSweep_GateFailureAbortsTick(t *testing.T) {
	e := newEnv(t)
	a := e.account(t, "g@example.com", domain.SubscriptionActive, time.Time{})
	e.endpoint(t, a.ID, "https://g.example")
	e.sweeper.Gate = failingGate{}

	if _, err := e.sweeper.SweepOnce(context.Background()); err == nil {
		t.Fatal("expected gate error")
	}
	if e.prober.calls.Load() != 0 {
		t.Fatal("no endpoint may be probed when eligibility is unknown")
	}
}

type flakyChecker struct {
	inner Checker
	bad   string
}

func (f flakyChecker) Check(ctx context.Context, a domain.Account, ep domain.Endpoint) (monitor.Outcome, error) {
	if ep.URL == f.bad {
		return monitor.Outcome{}, errors.New("write failed")
	}
	return f.inner.Check(ctx, a, ep)
}

func TestSweep_EndpointFailureDoesNotStopSweep(t *testing.T) {
	e := newEnv(t)
	a := e.account(t, "f@example.com", domain.SubscriptionActive, time.Time{})
	e.endpoint(t, a.ID, "https://bad.example")
	good := e.endpoint(t, a.ID, "https://good.example")
	b := e.account(t, "g@example.com", domain.SubscriptionActive, time.Time{})
	other := e.endpoint(t, b.ID, "https://other.example")
	e.sweeper.Checker = flakyChecker{inner: e.sweeper.Checker, bad: "https://bad.example"}

	sum, err := e.sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Accounts != 2 || sum.Checked != 2 || sum.Failed != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if e.get(t, good.ID).Status != domain.StatusUp || e.get(t, other.ID).Status != domain.StatusUp {
		t.Fatal("healthy endpoints must still be recorded")
	}
}

func TestSweeper_StartRunsImmediatePassAndStops(t *testing.T) {
	e := newEnv(t)
	a := e.account(t, "s@example.com", domain.SubscriptionActive, time.Time{})
	ep := e.endpoint(t, a.ID, "https://s.example")

	e.sweeper.Start(context.Background())
	e.sweeper.Start(context.Background()) // no-op while running

	deadline := time.Now().Add(2 * time.Second)
	for e.get(t, ep.ID).LastChecked == nil {
		if time.Now().After(deadline) {
			t.Fatal("immediate pass did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.sweeper.Stop()
	e.sweeper.Stop() // idempotent
}

func TestSweeper_ZeroIntervalDisablesLoop(t *testing.T) {
	e := newEnv(t)
	e.sweeper.Interval = 0
	done := make(chan struct{})
	go func() {
		e.sweeper.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when disabled")
	}
}
