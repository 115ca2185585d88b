package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pkg/errors"
)

// AnchorProvider broadcasts a checkpoint payload to an external chain and
// returns the transaction id carrying it. Implementations wrap whatever
// wallet or proxy is available; the ledger never touches keys itself.
type AnchorProvider interface {
	Anchor(ctx context.Context, payload []byte) (txID string, err error)
}

// MockAnchor records payloads in memory. Used in tests and when the
// coordinator runs without an anchoring backend.
type MockAnchor struct {
	mu       sync.Mutex
	Payloads [][]byte
}

// Anchor records the payload and fabricates a deterministic tx id.
func (m *MockAnchor) Anchor(_ context.Context, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payloads = append(m.Payloads, append([]byte(nil), payload...))
	return "mock-" + hex.EncodeToString(payload[len(payload)-4:]), nil
}

// HTTPAnchor broadcasts OP_RETURN payloads through an anchor-proxy
// endpoint.
type HTTPAnchor struct {
	Endpoint string
	Client   *http.Client
}

type anchorRequest struct {
	PayloadHex string `json:"payloadHex"`
}

type anchorResponse struct {
	TxID string `json:"txId"`
}

// Anchor posts the payload to the proxy and returns the broadcast tx id.
func (h *HTTPAnchor) Anchor(ctx context.Context, payload []byte) (string, error) {
	body, err := json.Marshal(&anchorRequest{PayloadHex: hex.EncodeToString(payload)})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "anchor proxy unreachable")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close anchor response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("anchor proxy returned status %d", resp.StatusCode)
	}
	var parsed anchorResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "malformed anchor proxy response")
	}
	if parsed.TxID == "" {
		return "", errors.New("anchor proxy returned empty tx id")
	}
	return parsed.TxID, nil
}
