package probe

import (
	"context"

	"github.com/hamed0406/uptimesentry/internal/domain"
)

// Result is the outcome of a single probe.
//
// Verdict is always UP or DOWN; the other fields are diagnostics only.
// StatusCode is 0 when no HTTP response was received.
type Result struct {
	Verdict    domain.Verdict `json:"verdict"`
	StatusCode int            `json:"status_code,omitempty"`
	LatencyMS  float64        `json:"latency_ms"`
	Reason     string         `json:"reason,omitempty"`
}

func (r Result) Up() bool { return r.Verdict == domain.VerdictUp }

// Prober checks one target address. Implementations never return an error:
// every failure mode is reported as a DOWN verdict.
type Prober interface {
	Probe(ctx context.Context, target string) Result
}

func down(reason string, latency float64) Result {
	return Result{Verdict: domain.VerdictDown, LatencyMS: latency, Reason: reason}
}
