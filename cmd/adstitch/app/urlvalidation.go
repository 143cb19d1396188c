package app

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// errBlockedUpstream deliberately does not echo the address.
var errBlockedUpstream = fmt.Errorf("upstream URL not allowed")

// blockedV4 lists IPv4 ranges that upstream fetches must never reach:
// private, loopback, link-local, CGN, documentation, benchmarking, and
// reserved space.
var blockedV4 = mustParseCIDRs([]string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
})

// blockedV6 lists blocked native IPv6 ranges. IPv4-embedded forms are
// handled separately by extracting the IPv4 address.
var blockedV6 = mustParseCIDRs([]string{
	"::/128",        // unspecified
	"::1/128",       // loopback
	"fe80::/10",     // link-local
	"fc00::/7",      // unique local
	"2001:db8::/32", // documentation
})

// nat64Prefixes map an embedded IPv4 address (last 4 bytes) back to IPv4
// rules.
var nat64Prefixes = mustParseCIDRs([]string{
	"64:ff9b::/96",
	"64:ff9b:1::/48",
})

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// checkUpstream applies the upstream URL policy. In dev mode local and
// private addresses are allowed so that the service can stitch against a
// local origin.
func (s *Server) checkUpstream(raw string) error {
	if s.Cfg.DevMode {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
			return errBlockedUpstream
		}
		return nil
	}
	return validateUpstreamURL(raw)
}

// validateUpstreamURL checks that a URL is safe to fetch server-side:
// http(s) scheme and, when the host is a literal IP, outside all blocked
// ranges. Hostnames pass since resolution happens at dial time.
func validateUpstreamURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errBlockedUpstream
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errBlockedUpstream
	}
	host := u.Hostname()
	if host == "" {
		return errBlockedUpstream
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return nil
	}
	if blockedIP(ip) {
		return errBlockedUpstream
	}
	return nil
}

func blockedIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		return inAny(v4, blockedV4)
	}
	if inAny(ip, blockedV6) {
		return true
	}
	// NAT64 and compatible forms embed IPv4 in the last four bytes.
	if inAny(ip, nat64Prefixes) {
		return blockedIP(net.IP(ip[12:16]).To4())
	}
	return false
}

func inAny(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
