package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stable wire error codes. Handlers translate internal errors into
// {error, message} JSON bodies carrying one of these codes.
const (
	// Validation.
	CodeValidationFailed    = "validation_failed"
	CodeInvalidSubtaskGraph = "invalid_subtask_graph"
	CodeBadSnapshotRef      = "bad_snapshot_ref"
	CodeBadReasonCode       = "bad_reason_code"

	// Auth.
	CodeMeshTokenRequired = "mesh_token_required"
	CodeBadSignature      = "bad_signature"
	CodeClockSkew         = "clock_skew"
	CodeReplay            = "replay"
	CodeRateLimited       = "rate_limited"
	CodeUnknownIdentity   = "unknown_identity"
	CodeAgentMismatch     = "agent_mismatch"

	// State.
	CodeAgentNotRegistered          = "agent_not_registered"
	CodeAgentSuspended              = "agent_suspended"
	CodeAgentUnapproved             = "agent_unapproved"
	CodeWalletRequiredForIdeEnabled = "wallet_required_for_ide_enabled"
	CodeTaskNotFound                = "task_not_found"
	CodeAlreadyCancelled            = "already_cancelled"
	CodeAlreadyFullyRolledOut       = "already_fully_rolled_out"
	CodeCannotPromoteRolledBack     = "cannot_promote_rolled_back"

	// Capacity.
	CodeNoAgentsAvailable = "no_agents_available"
	CodeHealthCheckFailed = "health_check_failed"
	CodePeerUnreachable   = "peer_unreachable"

	// Integrity.
	CodeLedgerVerifyFailed        = "ledger_verify_failed"
	CodeBlacklistSignatureInvalid = "blacklist_signature_invalid"
)

// Error couples a stable wire code with a human-readable message. It is the
// error type crossing component boundaries toward the RPC surface.
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// NewError builds a coded error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf builds a coded error with a formatted message.
func NewErrorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the wire code carried by err, unwrapping as needed.
// Errors without a code map to the empty string.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
