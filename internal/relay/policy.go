package relay

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/time/rate"
)

var errAcceptRateExceeded = errors.New("accept rate exceeded")

// AccessPolicy decides which accepted sockets may start a handshake and
// applies socket options to the ones that do.
type AccessPolicy struct {
	whitelist []netip.Prefix // empty allows everyone
	ttl       int            // 0 keeps the system default
	limiter   *rate.Limiter  // connection admission, not message flow control
}

// NewAccessPolicy builds a policy. A non-positive acceptRate disables the limiter.
func NewAccessPolicy(whitelist []netip.Prefix, ttl int, acceptRate float64, acceptBurst int) *AccessPolicy {
	limit := rate.Inf
	if acceptRate > 0 {
		limit = rate.Limit(acceptRate)
	}
	if acceptBurst < 1 {
		acceptBurst = 1
	}
	return &AccessPolicy{
		whitelist: whitelist,
		ttl:       ttl,
		limiter:   rate.NewLimiter(limit, acceptBurst),
	}
}

// Allowed reports whether the remote address passes the whitelist.
func (p *AccessPolicy) Allowed(addr net.Addr) bool {
	if len(p.whitelist) == 0 {
		return true
	}
	ip, ok := remoteIP(addr)
	if !ok {
		return false
	}
	for _, prefix := range p.whitelist {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// Admit checks the whitelist and the accept limiter for a freshly accepted socket.
func (p *AccessPolicy) Admit(conn net.Conn) error {
	if !p.Allowed(conn.RemoteAddr()) {
		return fmt.Errorf("%w: %s", ErrRemoteNotAllowed, conn.RemoteAddr())
	}
	if !p.limiter.Allow() {
		return errAcceptRateExceeded
	}
	return nil
}

// ApplyTTL sets the configured IP TTL (hop limit for IPv6) on the socket.
func (p *AccessPolicy) ApplyTTL(conn net.Conn) error {
	if p.ttl == 0 {
		return nil
	}
	ip, ok := remoteIP(conn.RemoteAddr())
	if !ok {
		return fmt.Errorf("cannot apply ttl to %s", conn.RemoteAddr())
	}
	if ip.Is4() {
		return ipv4.NewConn(conn).SetTTL(p.ttl)
	}
	return ipv6.NewConn(conn).SetHopLimit(p.ttl)
}

func remoteIP(addr net.Addr) (netip.Addr, bool) {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		ip, ok := netip.AddrFromSlice(tcpAddr.IP)
		return ip.Unmap(), ok
	}
	addrPort, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return addrPort.Addr().Unmap(), true
}
