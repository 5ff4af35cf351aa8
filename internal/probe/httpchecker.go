package probe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hamed0406/uptimesentry/internal/domain"
)

const DefaultTimeout = 10 * time.Second

type HTTPProber struct {
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProber{
		Timeout: timeout,
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Probe issues a GET against target. UP iff a response with a status below
// 400 arrives within the timeout.
func (h *HTTPProber) Probe(ctx context.Context, target string) (out Result) {
	start := time.Now()
	elapsed := func() float64 { return time.Since(start).Seconds() * 1000 }
	defer func() {
		if r := recover(); r != nil {
			out = down("probe_panic", elapsed())
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return down(err.Error(), 0)
	}
	req.Header.Set("User-Agent", "uptimesentry/1.0")

	resp, err := h.Client.Do(req)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "request timed out"
		}
		return down(reason, elapsed())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	v := domain.VerdictDown
	if resp.StatusCode < 400 {
		v = domain.VerdictUp
	}
	return Result{
		Verdict:    v,
		StatusCode: resp.StatusCode,
		LatencyMS:  elapsed(),
		Reason:     resp.Status,
	}
}
