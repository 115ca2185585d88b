package mesh

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/enclavecode/swarm/coordinator/api"
)

// Mesh message types.
const (
	MsgHello        = "HELLO"
	MsgWelcome      = "WELCOME"
	MsgReject       = "REJECT"
	MsgAnnounce     = "ANNOUNCE"
	MsgRequestDelta = "REQUEST_DELTA"
	MsgDelta        = "DELTA"
	MsgGossip       = "GOSSIP"
)

// Message is the mesh wire envelope.
type Message struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hello opens a peer exchange.
type Hello struct {
	PeerID    string   `json:"peerId"`
	PublicKey []byte   `json:"publicKey"`
	URL       string   `json:"url"`
	Roles     []string `json:"roles,omitempty"`
	Version   string   `json:"version,omitempty"`
}

// Welcome accepts a hello.
type Welcome struct {
	AcceptedPeerID string `json:"acceptedPeerId"`
}

// Reject declines a hello.
type Reject struct {
	Reason string `json:"reason"`
}

// Announce is the periodic capability broadcast.
type Announce struct {
	CapabilityDigest string `json:"capabilityDigest"`
	LedgerHeadIndex  uint64 `json:"ledgerHeadIndex"`
	LedgerHeadHash   string `json:"ledgerHeadHash"`
	BlacklistVersion uint64 `json:"blacklistVersion"`
}

// RequestDelta asks for blacklist records newer than SinceVersion.
type RequestDelta struct {
	SinceVersion uint64 `json:"sinceVersion"`
}

// Delta carries blacklist records and recent checkpoints.
type Delta struct {
	Version     uint64                `json:"version"`
	Records     []api.BlacklistRecord `json:"records,omitempty"`
	Checkpoints []api.Checkpoint      `json:"checkpoints,omitempty"`
}

// Gossip is the reactive broadcast of fresh records with a per-hop TTL.
type Gossip struct {
	TTL         int                   `json:"ttl"`
	Records     []api.BlacklistRecord `json:"records,omitempty"`
	Checkpoints []api.Checkpoint      `json:"checkpoints,omitempty"`
}

// encodeMessage wraps a typed payload into the wire envelope.
func encodeMessage(msgType, from string, payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "unserialisable %s payload", msgType)
	}
	return &Message{Type: msgType, From: from, Payload: raw}, nil
}

// decodePayload parses the envelope payload into out.
func decodePayload(msg *Message, out interface{}) error {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		return errors.Wrapf(err, "malformed %s payload", msg.Type)
	}
	return nil
}
