package ledger

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/ledger/canonical"
)

// hashPreimage is the exact structure hashed into the chain. The canonical
// encoder sorts the keys, so the preimage bytes are
// {"a":...,"d":...,"i":...,"p":...,"t":...,"ts":...}.
type hashPreimage struct {
	Actor       string          `json:"a"`
	Payload     json.RawMessage `json:"d"`
	Index       uint64          `json:"i"`
	PrevHash    string          `json:"p"`
	PayloadType string          `json:"t"`
	TimestampMs int64           `json:"ts"`
}

// EntryHash computes the lowercase-hex chain hash of an entry. The payload
// contributes in canonical form, so semantically equal payloads hash
// identically regardless of the writer's field order.
func EntryHash(entry *api.LedgerEntry) (string, error) {
	payload, err := canonical.Canonicalize(entry.Payload)
	if err != nil {
		return "", errors.Wrap(err, "payload does not canonicalise")
	}
	preimage, err := canonical.Marshal(&hashPreimage{
		Actor:       entry.Actor,
		Payload:     payload,
		Index:       entry.Index,
		PrevHash:    entry.PrevHash,
		PayloadType: entry.PayloadType,
		TimestampMs: entry.TimestampMs,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(preimage)
	return hex.EncodeToString(sum[:]), nil
}

// SignEntry signs the entry hash with the coordinator key and stores the
// base64url signature on the entry.
func SignEntry(entry *api.LedgerEntry, key ed25519.PrivateKey) (string, error) {
	h, err := EntryHash(entry)
	if err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return "", err
	}
	entry.Signature = base64.RawURLEncoding.EncodeToString(ed25519.Sign(key, raw))
	return h, nil
}

// VerifyEntrySignature checks the entry signature against the given public
// key and the recomputed entry hash.
func VerifyEntrySignature(entry *api.LedgerEntry, pub ed25519.PublicKey) error {
	h, err := EntryHash(entry)
	if err != nil {
		return err
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return err
	}
	sig, err := base64.RawURLEncoding.DecodeString(entry.Signature)
	if err != nil {
		return errors.Wrap(err, "malformed entry signature")
	}
	if !ed25519.Verify(pub, raw, sig) {
		return errors.Errorf("bad signature on ledger entry %d", entry.Index)
	}
	return nil
}
