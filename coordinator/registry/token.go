package registry

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/enclavecode/swarm/shared/timeutils"
)

// RegistrationClaims is the payload of a portal-issued registration token.
type RegistrationClaims struct {
	AgentID     string `json:"agentId,omitempty"`
	PreApproved bool   `json:"preApproved,omitempty"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// ErrBadRegistrationToken covers malformed, mis-signed and expired tokens.
var ErrBadRegistrationToken = errors.New("bad registration token")

// IssueRegistrationToken mints a token: base64url(claims JSON) joined to
// base64url(signature) by a dot. Exposed for the portal test double and
// the operational tooling.
func IssueRegistrationToken(claims *RegistrationClaims, key ed25519.PrivateKey) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(key, payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// VerifyRegistrationToken checks the token signature against the portal
// service key and the expiry against the coordinator clock.
func VerifyRegistrationToken(token string, portalKey ed25519.PublicKey) (*RegistrationClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, errors.Wrap(ErrBadRegistrationToken, "expected two dot-joined parts")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errors.Wrap(ErrBadRegistrationToken, "payload is not base64url")
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.Wrap(ErrBadRegistrationToken, "signature is not base64url")
	}
	if !ed25519.Verify(portalKey, payload, sig) {
		return nil, errors.Wrap(ErrBadRegistrationToken, "signature mismatch")
	}
	claims := &RegistrationClaims{}
	if err := json.Unmarshal(payload, claims); err != nil {
		return nil, errors.Wrap(ErrBadRegistrationToken, "malformed claims")
	}
	if claims.ExpiresAtMs > 0 && claims.ExpiresAtMs < timeutils.NowUnixMilli() {
		return nil, errors.Wrap(ErrBadRegistrationToken, "token expired")
	}
	return claims, nil
}
