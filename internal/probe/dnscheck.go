package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

const (
	DNSResolves      = "RESOLVES"
	DNSNXDomain      = "NXDOMAIN"
	DNSNoARecord     = "NO_A_RECORD"
	DNSServfail      = "SERVFAIL_or_TIMEOUT"
	DNSInvalidName   = "INVALID_NAME"
	defaultDNSBudget = 3 * time.Second
)

type DNSStatus struct {
	Domain        string   `json:"domain"`
	IPs           []net.IP `json:"ips,omitempty"`
	Nameservers   []string `json:"nameservers,omitempty"`
	Class         string   `json:"class"`
	ResolverError string   `json:"resolver_error,omitempty"`
}

var dnsResolver = &net.Resolver{}

// CheckDNS resolves domain with the OS resolver and classifies the answer.
func CheckDNS(domain string) DNSStatus {
	s := DNSStatus{Domain: strings.TrimSpace(domain)}
	if s.Domain == "" || strings.Contains(s.Domain, "://") {
		s.Class = DNSInvalidName
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultDNSBudget)
	defer cancel()

	ips, err := dnsResolver.LookupIP(ctx, "ip", s.Domain)
	switch {
	case err == nil && len(ips) > 0:
		s.IPs = ips
		s.Class = DNSResolves
		return s
	case err != nil:
		s.ResolverError = err.Error()
		var de *net.DNSError
		if errors.As(err, &de) && !de.IsNotFound {
			s.Class = DNSServfail
		}
	}

	// No address records: a delegated zone means the name exists.
	if ns, err := dnsResolver.LookupNS(ctx, s.Domain); err == nil && len(ns) > 0 {
		for _, n := range ns {
			s.Nameservers = append(s.Nameservers, strings.TrimSuffix(n.Host, "."))
		}
		s.Class = DNSNoARecord
		return s
	}
	if s.Class == "" {
		s.Class = DNSNXDomain
	}
	return s
}
