package auth

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// TokenGate holds the pre-shared secrets gating mesh-internal and portal
// routes. Comparisons are constant-time.
type TokenGate struct {
	meshToken   []byte
	portalToken []byte
	adminCIDRs  []*net.IPNet
}

// NewTokenGate builds a gate. Empty tokens disable their check, which is
// only acceptable in tests and single-node development setups.
func NewTokenGate(meshToken, portalToken string, adminAllowlist []string) (*TokenGate, error) {
	g := &TokenGate{
		meshToken:   []byte(meshToken),
		portalToken: []byte(portalToken),
	}
	for _, cidr := range adminAllowlist {
		if !strings.Contains(cidr, "/") {
			cidr += "/32"
		}
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		g.adminCIDRs = append(g.adminCIDRs, ipnet)
	}
	return g, nil
}

// CheckMeshToken verifies the x-mesh-token header value.
func (g *TokenGate) CheckMeshToken(token string) bool {
	if len(g.meshToken) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare(g.meshToken, []byte(token)) == 1
}

// CheckPortalToken verifies the trusted portal-service token, which
// bypasses the admin IP allowlist.
func (g *TokenGate) CheckPortalToken(token string) bool {
	if len(g.portalToken) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(g.portalToken, []byte(token)) == 1
}

// CheckAdmin authorises an admin-gated request: either the portal token
// matches or the remote address is inside the allowlist.
func (g *TokenGate) CheckAdmin(r *http.Request) bool {
	if g.CheckPortalToken(r.Header.Get(HeaderPortalToken)) {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, ipnet := range g.adminCIDRs {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}
