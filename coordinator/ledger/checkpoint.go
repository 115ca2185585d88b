package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/ledger/canonical"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/timeutils"
)

// AnchorPayloadSize is the fixed OP_RETURN payload length: the two ASCII
// prefix bytes, the version byte and the 32-byte head hash.
const AnchorPayloadSize = 35

// Anchor payload prefix bytes, ASCII 'E' 'C'.
const (
	anchorPrefix0 = 0x45
	anchorPrefix1 = 0x43
)

// EncodeAnchorPayload builds the 35-byte OP_RETURN checkpoint payload.
func EncodeAnchorPayload(version byte, headHash string) ([]byte, error) {
	raw, err := hex.DecodeString(headHash)
	if err != nil {
		return nil, errors.Wrap(err, "head hash is not hex")
	}
	if len(raw) != 32 {
		return nil, errors.Errorf("head hash must be 32 bytes, got %d", len(raw))
	}
	payload := make([]byte, 0, AnchorPayloadSize)
	payload = append(payload, anchorPrefix0, anchorPrefix1, version)
	return append(payload, raw...), nil
}

// DecodeAnchorPayload parses an OP_RETURN checkpoint payload back into its
// version and head hash.
func DecodeAnchorPayload(payload []byte) (version byte, headHash string, err error) {
	if len(payload) != AnchorPayloadSize {
		return 0, "", errors.Errorf("anchor payload must be %d bytes, got %d", AnchorPayloadSize, len(payload))
	}
	if payload[0] != anchorPrefix0 || payload[1] != anchorPrefix1 {
		return 0, "", errors.New("anchor payload missing EC prefix")
	}
	return payload[2], hex.EncodeToString(payload[3:]), nil
}

// checkpointPreimage is the signed portion of a checkpoint.
type checkpointPreimage struct {
	Index         uint64 `json:"checkpointIndex"`
	CoordinatorID string `json:"coordinatorId"`
	HeadHash      string `json:"headHash"`
	TimestampMs   int64  `json:"timestampMs"`
}

// SignCheckpoint signs the checkpoint with the coordinator key.
func SignCheckpoint(cp *api.Checkpoint, key ed25519.PrivateKey) error {
	preimage, err := canonical.Marshal(&checkpointPreimage{
		Index:         cp.Index,
		CoordinatorID: cp.CoordinatorID,
		HeadHash:      cp.HeadHash,
		TimestampMs:   cp.TimestampMs,
	})
	if err != nil {
		return err
	}
	cp.Signature = base64.RawURLEncoding.EncodeToString(ed25519.Sign(key, preimage))
	return nil
}

// VerifyCheckpointSignature checks a checkpoint against its publisher key.
func VerifyCheckpointSignature(cp *api.Checkpoint, pub ed25519.PublicKey) error {
	preimage, err := canonical.Marshal(&checkpointPreimage{
		Index:         cp.Index,
		CoordinatorID: cp.CoordinatorID,
		HeadHash:      cp.HeadHash,
		TimestampMs:   cp.TimestampMs,
	})
	if err != nil {
		return err
	}
	sig, err := base64.RawURLEncoding.DecodeString(cp.Signature)
	if err != nil {
		return errors.Wrap(err, "malformed checkpoint signature")
	}
	if !ed25519.Verify(pub, preimage, sig) {
		return errors.Errorf("bad signature on checkpoint %d from %s", cp.Index, cp.CoordinatorID)
	}
	return nil
}

// PublishCheckpoint signs and persists the current head as a checkpoint,
// announces it on the checkpoint feed and, when an anchor provider is
// configured, broadcasts the OP_RETURN payload.
func (s *Service) PublishCheckpoint(ctx context.Context) error {
	s.mu.Lock()
	index, headHash := s.headIndex, s.headHash
	if index == 0 {
		// Empty ledger, nothing to checkpoint.
		s.mu.Unlock()
		return nil
	}
	s.lastCheckpointIndex = index
	s.mu.Unlock()

	cp := &api.Checkpoint{
		Index:         index,
		HeadHash:      headHash,
		CoordinatorID: s.cfg.CoordinatorID,
		TimestampMs:   timeutils.NowUnixMilli(),
	}
	if err := SignCheckpoint(cp, s.cfg.SigningKey); err != nil {
		return err
	}
	if err := s.cfg.Database.SaveCheckpoint(ctx, cp); err != nil {
		return errors.Wrap(err, "could not persist checkpoint")
	}
	checkpointsPublished.Inc()
	log.WithFields(logrus.Fields{
		"index":    index,
		"headHash": trunc(headHash),
	}).Info("Published ledger checkpoint")
	s.checkpointFeed.Send(cp)

	if s.cfg.Anchor != nil {
		go s.anchorCheckpoint(cp)
	}
	return nil
}

func (s *Service) anchorCheckpoint(cp *api.Checkpoint) {
	payload, err := EncodeAnchorPayload(params.Coordinator().AnchorPayloadVersion, cp.HeadHash)
	if err != nil {
		anchorFailures.Inc()
		log.WithError(err).Error("Could not encode anchor payload")
		return
	}
	txID, err := s.cfg.Anchor.Anchor(s.ctx, payload)
	if err != nil {
		anchorFailures.Inc()
		log.WithError(err).WithField("index", cp.Index).Error("Checkpoint anchor broadcast failed")
		return
	}
	cp.AnchorTxID = txID
	if err := s.cfg.Database.SaveCheckpoint(s.ctx, cp); err != nil {
		log.WithError(err).Error("Could not persist anchored checkpoint")
		return
	}
	log.WithFields(logrus.Fields{
		"index": cp.Index,
		"txId":  txID,
	}).Info("Checkpoint anchored")
}
