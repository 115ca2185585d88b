package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/auth"
)

// sourceKey carries the signature-verified identity through the request
// context so handlers can bind body identities to it.
type sourceKey struct{}

// maxBodyBytes caps inbound JSON bodies. Prompts are large; blobs are not
// this API's business.
const maxBodyBytes = 4 << 20

// meshOnly admits requests carrying the pre-shared mesh token.
func (s *Service) meshOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.TokenGate.CheckMeshToken(r.Header.Get(auth.HeaderMeshToken)) {
			writeError(w, api.NewError(api.CodeMeshTokenRequired, "missing or invalid mesh token"))
			return
		}
		next(w, r)
	}
}

// signed admits requests carrying both the mesh token and a valid
// Ed25519 request signature from an enrolled source.
func (s *Service) signed(next http.HandlerFunc) http.HandlerFunc {
	return s.meshOnly(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, api.NewError(api.CodeValidationFailed, "could not read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		sourceID := r.Header.Get(auth.HeaderAgentID)
		if sourceID == "" {
			sourceID = r.Header.Get(auth.HeaderPeerID)
		}
		if sourceID == "" {
			writeError(w, api.NewError(api.CodeBadSignature, "missing x-agent-id or x-peer-id"))
			return
		}
		ts, err := auth.ParseTimestamp(r.Header.Get(auth.HeaderTimestampMs))
		if err != nil {
			writeError(w, api.NewError(api.CodeBadSignature, "missing or malformed x-timestamp-ms"))
			return
		}
		bodyHash := auth.BodyHash(body)
		if claimed := r.Header.Get(auth.HeaderBodySha256); claimed != "" && claimed != bodyHash {
			writeError(w, api.NewError(api.CodeBadSignature, "x-body-sha256 does not match the body"))
			return
		}
		err = s.cfg.Verifier.Verify(&auth.SignedRequest{
			SourceID:    sourceID,
			Method:      r.Method,
			Path:        r.URL.Path,
			BodyHash:    bodyHash,
			TimestampMs: ts,
			Nonce:       r.Header.Get(auth.HeaderNonce),
			Signature:   r.Header.Get(auth.HeaderSignature),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), sourceKey{}, sourceID)))
	})
}

// verifiedSource returns the identity the request signature was verified
// against, or the empty string on unsigned routes.
func verifiedSource(r *http.Request) string {
	id, _ := r.Context().Value(sourceKey{}).(string)
	return id
}

// bindAgent rejects a request whose body names a different agent than the
// one whose key signed it. An agent's record is mutated only by its own
// signed requests.
func bindAgent(r *http.Request, agentID string) error {
	if src := verifiedSource(r); agentID != src {
		return api.NewErrorf(api.CodeAgentMismatch, "body names agent %q but the request was signed by %q", agentID, src)
	}
	return nil
}

// admin admits operators: the portal token or an allowlisted address.
func (s *Service) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.TokenGate.CheckAdmin(r) {
			writeError(w, api.NewError(api.CodeMeshTokenRequired, "admin access denied"))
			return
		}
		next(w, r)
	}
}

// decodeJSON parses a request body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return api.NewErrorf(api.CodeValidationFailed, "malformed JSON body: %v", err)
	}
	return nil
}

// writeJSON writes a 200 response body.
func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Debug("Could not encode response body")
	}
}

// writeError translates a coded error into its HTTP status and a stable
// {error, message} body. Uncoded errors become opaque 500s.
func writeError(w http.ResponseWriter, err error) {
	code := api.CodeOf(err)
	if code == "" {
		log.WithError(err).Error("Internal error reached the API surface")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		writeBody(w, api.NewError("internal", "internal error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOf(code))
	coded, ok := err.(*api.Error)
	if !ok {
		coded = api.NewError(code, err.Error())
	}
	writeBody(w, coded)
}

func writeBody(w http.ResponseWriter, body *api.Error) {
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Debug("Could not encode error body")
	}
}

// statusOf maps a wire error code onto its HTTP status.
func statusOf(code string) int {
	switch code {
	case api.CodeValidationFailed, api.CodeInvalidSubtaskGraph, api.CodeBadSnapshotRef,
		api.CodeBadReasonCode, api.CodeBlacklistSignatureInvalid:
		return http.StatusBadRequest
	case api.CodeMeshTokenRequired, api.CodeBadSignature, api.CodeClockSkew,
		api.CodeReplay, api.CodeUnknownIdentity:
		return http.StatusUnauthorized
	case api.CodeAgentSuspended, api.CodeAgentMismatch, api.CodeAgentUnapproved:
		return http.StatusForbidden
	case api.CodeTaskNotFound, api.CodeAgentNotRegistered:
		return http.StatusNotFound
	case api.CodeAlreadyCancelled, api.CodeWalletRequiredForIdeEnabled,
		api.CodeAlreadyFullyRolledOut, api.CodeCannotPromoteRolledBack:
		return http.StatusConflict
	case api.CodeRateLimited:
		return http.StatusTooManyRequests
	case api.CodePeerUnreachable:
		return http.StatusBadGateway
	case api.CodeLedgerVerifyFailed, api.CodeNoAgentsAvailable, api.CodeHealthCheckFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
