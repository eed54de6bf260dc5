package fetch

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"
)

// ErrBlockedAddress is returned when a host resolves only to addresses the
// client refuses to dial.
var ErrBlockedAddress = errors.New("address not allowed")

var blockedNets []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8", "::1/128",
		"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
		"169.254.0.0/16", "100.64.0.0/10",
		"0.0.0.0/8", "224.0.0.0/4", "240.0.0.0/4",
		"::/128", "fe80::/10", "fc00::/7", "ff00::/8",
	} {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			blockedNets = append(blockedNets, n)
		}
	}
}

// IsBlockedIP reports whether ip is loopback, private, link-local or reserved.
func IsBlockedIP(ip net.IP) bool {
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// IsAllowedScheme reports whether u is http or https.
func IsAllowedScheme(u *url.URL) bool {
	return u != nil && (u.Scheme == "http" || u.Scheme == "https")
}

// guardedDialContext resolves the host itself and connects to the first
// allowed address, so a later lookup cannot swap in a private one.
func guardedDialContext(dialer *net.Dialer) func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}

		if ip := net.ParseIP(host); ip != nil {
			if IsBlockedIP(ip) {
				return nil, ErrBlockedAddress
			}
			return dialer.DialContext(ctx, network, address)
		}

		lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		ips, err := net.DefaultResolver.LookupIPAddr(lookupCtx, host)
		if err != nil {
			return nil, err
		}

		for _, ipa := range ips {
			if !IsBlockedIP(ipa.IP) {
				return dialer.DialContext(ctx, network, net.JoinHostPort(ipa.IP.String(), port))
			}
		}
		return nil, ErrBlockedAddress
	}
}
