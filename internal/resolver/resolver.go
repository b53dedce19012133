// Package resolver resolves an NTS-KE-supplied server name to a set of IP
// addresses matching the requested address family (spec.md §4.6).
package resolver

import (
	"context"
	"fmt"
	"net"
)

// Family selects which address family to resolve and bind.
type Family int

const (
	// FamilyAny accepts either IPv4 or IPv6, preferring whichever the
	// resolver lists first.
	FamilyAny Family = iota
	FamilyIPv4
	FamilyIPv6
)

// Resolver resolves a host to addresses. net.Resolver satisfies this
// indirectly via Net.
type Resolver interface {
	Resolve(ctx context.Context, host string, family Family) ([]net.IP, error)
}

// Net is a Resolver backed by the standard library's net.Resolver.
type Net struct {
	Resolver *net.Resolver
}

// NewNet returns a Net using the system default resolver.
func NewNet() *Net {
	return &Net{Resolver: net.DefaultResolver}
}

// Resolve looks up host and filters to the requested family. If host is
// already a literal IP, it's returned directly without a DNS query.
func (n *Net) Resolve(ctx context.Context, host string, family Family) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if matchesFamily(ip, family) {
			return []net.IP{ip}, nil
		}
		return nil, fmt.Errorf("resolver: literal address %s does not match requested family", host)
	}

	ips, err := n.Resolver.LookupIP(ctx, networkForFamily(family), host)
	if err != nil {
		return nil, fmt.Errorf("resolver: lookup %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolver: no addresses found for %s", host)
	}
	return ips, nil
}

func networkForFamily(family Family) string {
	switch family {
	case FamilyIPv4:
		return "ip4"
	case FamilyIPv6:
		return "ip6"
	default:
		return "ip"
	}
}

func matchesFamily(ip net.IP, family Family) bool {
	switch family {
	case FamilyIPv4:
		return ip.To4() != nil
	case FamilyIPv6:
		return ip.To4() == nil && ip.To16() != nil
	default:
		return true
	}
}
