// Package monitor checks a single endpoint: probe, record the verdict, and
// alert on a qualifying transition. The sweep and the add-endpoint handler
// share it.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimesentry/internal/clock"
	"github.com/hamed0406/uptimesentry/internal/domain"
	"github.com/hamed0406/uptimesentry/internal/notify"
	"github.com/hamed0406/uptimesentry/internal/probe"
	"github.com/hamed0406/uptimesentry/internal/repo"
)

type DownNotifier interface {
	NotifyDown(ctx context.Context, d notify.Down) error
}

type Monitor struct {
	Endpoints repo.EndpointStore
	Prober    probe.Prober
	Alerter   DownNotifier
	Clock     clock.Clock
	Logger    *zap.Logger
}

func New(endpoints repo.EndpointStore, p probe.Prober, alerter DownNotifier, clk clock.Clock, log *zap.Logger) *Monitor {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{Endpoints: endpoints, Prober: p, Alerter: alerter, Clock: clk, Logger: log}
}

// Outcome reports what one check did. NotifyErr is set when a notification
// was due but delivery failed; the stored status is unaffected by it.
type Outcome struct {
	Endpoint   domain.Endpoint
	Result     probe.Result
	Transition domain.Transition
	Notified   bool
	NotifyErr  error
}

// Check probes ep and applies the verdict to the stored record. An error
// means nothing was written: the record is gone (repo.ErrNotFound), the
// store failed, or ctx was cancelled while probing.
func (m *Monitor) Check(ctx context.Context, acct domain.Account, ep domain.Endpoint) (Outcome, error) {
	res := m.Prober.Probe(ctx, ep.URL)
	out := Outcome{Endpoint: ep, Result: res}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	now := m.Clock.Now()

	// Past this point the check completes even if ctx is cancelled.
	wctx := context.WithoutCancel(ctx)

	var upSince *time.Time
	updated, err := m.Endpoints.UpdateEndpoint(wctx, ep.ID, func(e *domain.Endpoint) error {
		upSince = nil
		if e.Status == domain.StatusUp && e.LastTransition != nil {
			t := *e.LastTransition
			upSince = &t
		}
		out.Transition = e.Apply(res.Verdict, now)
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("record check for %s: %w", ep.ID, err)
	}
	out.Endpoint = *updated

	log := m.Logger.With(
		zap.String("endpoint_id", string(ep.ID)),
		zap.String("url", ep.URL),
	)
	log.Info("endpoint_checked",
		zap.String("status", string(updated.Status)),
		zap.Bool("changed", out.Transition.Changed),
		zap.Int("http_status", res.StatusCode),
		zap.Float64("latency_ms", res.LatencyMS),
		zap.String("reason", res.Reason),
	)

	if out.Transition.ShouldNotify && m.Alerter != nil {
		err := m.Alerter.NotifyDown(wctx, notify.Down{
			Account:  acct,
			Endpoint: *updated,
			UpSince:  upSince,
			Reason:   res.Reason,
		})
		if err != nil {
			out.NotifyErr = err
			log.Warn("notify_failed", zap.String("account_id", string(acct.ID)), zap.Error(err))
		} else {
			out.Notified = true
			log.Info("notify_sent", zap.String("account_id", string(acct.ID)))
		}
	}
	return out, nil
}
