package probe

import (
	"net/url"
)

// DiagnoseDNS classifies the host of target, e.g. "NXDOMAIN" or "RESOLVES".
// It is used to annotate DOWN verdicts for display, never to decide them.
func DiagnoseDNS(target string) DNSStatus {
	return CheckDNS(extractHost(target))
}

func extractHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
