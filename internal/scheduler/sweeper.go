package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimesentry/internal/clock"
	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/monitor"
	"github.com/hamed0406/uptimesentry/internal/repo"
)

// ErrSweepInProgress is returned by SweepOnce when another sweep holds the
// sweep lock.
var ErrSweepInProgress = errors.New("sweep already in progress")

type Gate interface {
	EligibleAccounts(ctx context.Context, now time.Time) ([]domain.Account, error)
}

type Checker interface {
	Check(ctx context.Context, acct domain.Account, ep domain.Endpoint) (monitor.Outcome, error)
}

// Summary describes one completed sweep.
type Summary struct {
	StartedAt time.Time     `json:"started_at"`
	Accounts  int           `json:"accounts"`
	Checked   int           `json:"checked"`
	Failed    int           `json:"failed"`
	Notified  int           `json:"notified"`
	Duration  time.Duration `json:"duration_ns"`
}

type Sweeper struct {
	Logger      *zap.Logger
	Gate        Gate
	Endpoints   repo.EndpointStore
	Checker     Checker
	Clock       clock.Clock
	Interval    time.Duration
	Concurrency int

	sweepMu sync.Mutex

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(
	logger *zap.Logger,
	gate Gate,
	endpoints repo.EndpointStore,
	checker Checker,
	clk clock.Clock,
	interval time.Duration,
	concurrency int,
) *Sweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	if interval < 0 {
		interval = 0
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Sweeper{
		Logger:      logger,
		Gate:        gate,
		Endpoints:   endpoints,
		Checker:     checker,
		Clock:       clk,
		Interval:    interval,
		Concurrency: concurrency,
	}
}

// Start runs the sweep loop in the background until Stop is called or ctx is
// cancelled. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Stop cancels the loop and any sweep in flight, then waits for the loop to
// exit. Writes already started by a check are allowed to finish.
func (s *Sweeper) Stop() {
	s.lifeMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lifeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run does an immediate pass, then one per tick, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval == 0 {
		s.Logger.Info("sweeper_disabled")
		return
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("sweeper_stopped")
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); errors.Is(err, ErrSweepInProgress) {
		s.Logger.Warn("sweep_skipped", zap.String("reason", "previous sweep still running"))
	}
}

// SweepOnce checks every endpoint of every eligible account. It never waits
// for a running sweep: if one holds the lock it returns ErrSweepInProgress.
// A Gate failure aborts the sweep; per-account and per-endpoint failures are
// logged and counted.
func (s *Sweeper) SweepOnce(ctx context.Context) (Summary, error) {
	if !s.sweepMu.TryLock() {
		return Summary{}, ErrSweepInProgress
	}
	defer s.sweepMu.Unlock()

	now := s.Clock.Now()
	sum := Summary{StartedAt: now}
	started := time.Now()

	accounts, err := s.Gate.EligibleAccounts(ctx, now)
	if err != nil {
		s.Logger.Error("sweep_aborted", zap.Error(err))
		return sum, err
	}
	sum.Accounts = len(accounts)

	var checked, failed, notified atomic.Int64
	swg := sizedwaitgroup.New(s.Concurrency)

	for _, acct := range accounts {
		eps, err := s.Endpoints.ListEndpoints(ctx, acct.ID)
		if err != nil {
			s.Logger.Warn("sweep_list_endpoints_error",
				zap.String("account_id", string(acct.ID)),
				zap.Error(err),
			)
			continue
		}
		for _, ep := range eps {
			if ctx.Err() != nil {
				break
			}
			swg.Add()
			go func(acct domain.Account, ep domain.Endpoint) {
				defer swg.Done()
				out, err := s.Checker.Check(ctx, acct, ep)
				switch {
				case errors.Is(err, repo.ErrNotFound):
					s.Logger.Debug("sweep_endpoint_gone", zap.String("endpoint_id", string(ep.ID)))
				case err != nil:
					failed.Add(1)
					s.Logger.Warn("sweep_check_error",
						zap.String("endpoint_id", string(ep.ID)),
						zap.String("url", ep.URL),
						zap.Error(err),
					)
				default:
					checked.Add(1)
					if out.Notified {
						notified.Add(1)
					}
				}
			}(acct, ep)
		}
	}
	swg.Wait()

	sum.Checked = int(checked.Load())
	sum.Failed = int(failed.Load())
	sum.Notified = int(notified.Load())
	sum.Duration = time.Since(started)

	s.Logger.Info("sweep_done",
		zap.Int("accounts", sum.Accounts),
		zap.Int("checked", sum.Checked),
		zap.Int("failed", sum.Failed),
		zap.Int("notified", sum.Notified),
		zap.Duration("duration", sum.Duration),
	)
	return sum, ctx.Err()
}
