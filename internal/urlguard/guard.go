// Package urlguard rejects URLs that point at loopback, private, link-local or
// otherwise internal network destinations, and normalizes accepted URLs.
//
// Validation is purely textual: hostnames are never resolved, so a public name
// that resolves to a private address at connection time is not caught here.
package urlguard

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// ErrDisallowed is wrapped by every rejection returned from Check.
var ErrDisallowed = errors.New("url not allowed")

// RejectionError describes why a URL was rejected.
type RejectionError struct {
	URL    string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("url not allowed: %s (%s)", e.URL, e.Reason)
}

// Unwrap lets errors.Is match ErrDisallowed.
func (e *RejectionError) Unwrap() error {
	return ErrDisallowed
}

// numericLabel matches a dotted label made only of decimal digits or a 0x hex literal.
var numericLabel = regexp.MustCompile(`^(0x[0-9a-f]*|[0-9]+)$`)

var localHostnames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
}

// Guard validates URLs against the internal-destination rules. The zero value
// is ready to use.
type Guard struct {
	trusted map[string]struct{}
}

// NewGuard builds a Guard that additionally accepts the given hosts verbatim.
// Entries are matched against the URL host with and without port, so
// "127.0.0.1:8443" trusts only that port while "mirror.internal" trusts any.
func NewGuard(trusted ...string) *Guard {
	g := &Guard{trusted: make(map[string]struct{}, len(trusted))}
	for _, host := range trusted {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			g.trusted[host] = struct{}{}
		}
	}
	return g
}

var defaultGuard = &Guard{}

// IsAllowed reports whether raw may be dereferenced using the default rules.
func IsAllowed(raw string) bool {
	return defaultGuard.Check(raw) == nil
}

// Allowed reports whether raw passes Check.
func (g *Guard) Allowed(raw string) bool {
	return g.Check(raw) == nil
}

// Check returns nil when raw is an http(s) URL whose host is not an internal
// destination, or a *RejectionError describing the first rule it broke.
func (g *Guard) Check(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return reject(raw, "unparseable")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return reject(raw, "scheme "+strconv.Quote(u.Scheme))
	}
	if u.User != nil {
		return reject(raw, "embedded credentials")
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return reject(raw, "empty host")
	}
	if g.isTrusted(strings.ToLower(u.Host), host) {
		return nil
	}
	if reason, bad := classifyHost(host); bad {
		return reject(raw, reason)
	}
	return nil
}

func (g *Guard) isTrusted(hostPort, host string) bool {
	if g == nil || len(g.trusted) == 0 {
		return false
	}
	if _, ok := g.trusted[hostPort]; ok {
		return true
	}
	_, ok := g.trusted[host]
	return ok
}

func classifyHost(host string) (string, bool) {
	if _, ok := localHostnames[host]; ok {
		return "local hostname", true
	}
	if strings.HasSuffix(host, ".localhost") {
		return "local hostname", true
	}
	if strings.Contains(host, ":") {
		return classifyIPv6(host)
	}
	labels := strings.Split(host, ".")
	allNumeric := true
	for _, label := range labels {
		if !numericLabel.MatchString(label) {
			allNumeric = false
			break
		}
	}
	if !allNumeric {
		return "", false
	}
	octets, ok := canonicalIPv4(labels)
	if !ok {
		return "obfuscated ip literal", true
	}
	return classifyIPv4(octets)
}

// canonicalIPv4 accepts only four plain decimal octets without leading zeros.
func canonicalIPv4(labels []string) ([4]int, bool) {
	var octets [4]int
	if len(labels) != 4 {
		return octets, false
	}
	for i, label := range labels {
		if strings.HasPrefix(label, "0x") {
			return octets, false
		}
		if len(label) > 1 && label[0] == '0' {
			return octets, false
		}
		n, err := strconv.Atoi(label)
		if err != nil || n > 255 {
			return octets, false
		}
		octets[i] = n
	}
	return octets, true
}

func classifyIPv4(o [4]int) (string, bool) {
	switch {
	case o[0] == 127:
		return "loopback address", true
	case o[0] == 10:
		return "private address", true
	case o[0] == 172 && o[1] >= 16 && o[1] <= 31:
		return "private address", true
	case o[0] == 192 && o[1] == 168:
		return "private address", true
	case o[0] == 169 && o[1] == 254:
		return "link-local address", true
	case o[0] == 0:
		return "unspecified address", true
	case o[0] == 100 && o[1] >= 64 && o[1] <= 127:
		return "shared address space", true
	case o[0] >= 224 && o[0] <= 239:
		return "multicast address", true
	case o[0] >= 240:
		return "reserved address", true
	}
	return "", false
}

var nat64Prefix = netip.MustParsePrefix("64:ff9b::/96")

// embeddedIPv4 returns the low 32 bits of addr as octets.
func embeddedIPv4(addr netip.Addr) [4]int {
	b := addr.As16()
	return [4]int{int(b[12]), int(b[13]), int(b[14]), int(b[15])}
}

// isIPv4Compatible reports the deprecated ::a.b.c.d form.
func isIPv4Compatible(addr netip.Addr) bool {
	b := addr.As16()
	for _, x := range b[:12] {
		if x != 0 {
			return false
		}
	}
	return true
}

func classifyIPv6(host string) (string, bool) {
	if strings.HasPrefix(host, "::ffff:") || strings.Contains(host, "::ffff:") {
		return "ipv4-mapped ipv6 address", true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return "invalid ipv6 literal", true
	}
	addr = addr.WithZone("")
	switch {
	case addr.Is4In6():
		return "ipv4-mapped ipv6 address", true
	case addr.IsLoopback():
		return "loopback address", true
	case addr.IsUnspecified():
		return "unspecified address", true
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "link-local address", true
	case addr.IsPrivate():
		return "unique-local address", true
	case addr.IsMulticast():
		return "multicast address", true
	case isIPv4Compatible(addr):
		return "ipv4-compatible ipv6 address", true
	case nat64Prefix.Contains(addr):
		if reason, bad := classifyIPv4(embeddedIPv4(addr)); bad {
			return "nat64 " + reason, true
		}
	}
	return "", false
}

func reject(raw, reason string) error {
	return &RejectionError{URL: raw, Reason: reason}
}

// Normalize upgrades http URLs to https and returns anything else unchanged.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) >= 7 && strings.EqualFold(trimmed[:7], "http://") {
		return "https://" + trimmed[7:]
	}
	return trimmed
}
