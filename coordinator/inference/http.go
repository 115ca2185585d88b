package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/enclavecode/swarm/coordinator/api"
)

var log = logrus.WithField("prefix", "inference")

// decomposeRequest is the wire request of the decomposition endpoint.
type decomposeRequest struct {
	Prompt        string `json:"prompt"`
	Language      string `json:"language"`
	SnapshotRef   string `json:"snapshotRef"`
	ResourceClass string `json:"resourceClass"`
	TimeoutMs     int64  `json:"timeoutMs,omitempty"`
}

// decomposeResponse is the wire response of the decomposition endpoint.
type decomposeResponse struct {
	Subtasks []SubtaskSpec `json:"subtasks"`
	Error    string        `json:"error,omitempty"`
}

// HTTPClient calls an inference service over HTTP.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates a client for the given decomposition endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Decompose posts the task prompt and returns the declared subtasks.
func (c *HTTPClient) Decompose(ctx context.Context, task *api.Task) ([]SubtaskSpec, error) {
	body, err := json.Marshal(&decomposeRequest{
		Prompt:        task.Prompt,
		Language:      task.Language,
		SnapshotRef:   task.SnapshotRef,
		ResourceClass: task.ResourceClass,
		TimeoutMs:     task.TimeoutMs,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "inference endpoint unreachable")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close inference response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("inference endpoint returned %d", resp.StatusCode)
	}
	decoded := &decomposeResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		return nil, errors.Wrap(err, "malformed inference response")
	}
	if decoded.Error != "" {
		return nil, errors.Errorf("inference error: %s", decoded.Error)
	}
	if len(decoded.Subtasks) == 0 {
		return nil, errors.New("inference returned no subtasks")
	}
	return decoded.Subtasks, nil
}
