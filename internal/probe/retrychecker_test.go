package probe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hamed0406/uptimesentry/internal/domain"
)

// scripted prober you can control
type fakeProber struct {
	results []Result
	i       int
}

func (f *fakeProber) Probe(ctx context.Context, target string) Result {
	if f.i >= len(f.results) {
		return Result{Verdict: domain.VerdictDown, Reason: "no more"}
	}
	r := f.results[f.i]
	f.i++
	return r
}

func TestRetryProber_SucceedsAfterRetry(t *testing.T) {
	f := &fakeProber{
		results: []Result{
			{Verdict: domain.VerdictDown, Reason: "first fail"},
			{Verdict: domain.VerdictUp, Reason: "ok"},
		},
	}
	rp := &RetryProber{Inner: f, Attempts: 3, Backoff: 10 * time.Millisecond}
	out := rp.Probe(context.Background(), "https://example.com")
	if !out.Up() {
		t.Fatalf("expected UP after retry, got %+v", out)
	}
	if f.i != 2 {
		t.Fatalf("expected 2 attempts, got %d", f.i)
	}
}

func TestRetryProber_AllFailAnnotates(t *testing.T) {
	f := &fakeProber{
		results: []Result{
			{Verdict: domain.VerdictDown, Reason: "fail1"},
			{Verdict: domain.VerdictDown, Reason: "fail2"},
		},
	}
	rp := &RetryProber{Inner: f, Attempts: 2}
	out := rp.Probe(context.Background(), "https://example.com")
	if out.Up() {
		t.Fatalf("expected DOWN, got UP")
	}
	if !strings.HasSuffix(out.Reason, "(after retries)") {
		t.Fatalf("expected retry annotation, got %q", out.Reason)
	}
}

func TestRetryProber_SingleAttemptByDefault(t *testing.T) {
	f := &fakeProber{results: []Result{{Verdict: domain.VerdictDown, Reason: "boom"}}}
	out := (&RetryProber{Inner: f}).Probe(context.Background(), "https://example.com")
	if f.i != 1 || out.Reason != "boom" {
		t.Fatalf("expected one unannotated attempt, got i=%d %+v", f.i, out)
	}
}

func TestDNS_InvalidName(t *testing.T) {
	if got := CheckDNS("https://example.com").Class; got != DNSInvalidName {
		t.Fatalf("want %s, got %s", DNSInvalidName, got)
	}
	if got := extractHost("https://Example.com:8443/x"); got != "Example.com" {
		t.Fatalf("extractHost: %q", got)
	}
}
