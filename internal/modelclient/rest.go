// Package modelclient talks to the model serving layer. The REST client
// fetches model snapshots and runs reconstruction round-trips; the
// WebSocket client streams the serving query log.
package modelclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"modelguard/internal/integrity"
)

type Client struct {
	base string
	rest *resty.Client
}

func NewREST(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	return &Client{base, r}
}

type snapshotResp struct {
	ModelID            string               `json:"modelId"`
	LayerWeights       map[string][]float64 `json:"layerWeights"`
	OutputDistribution map[string]float64   `json:"outputDistribution"`
	Accuracy           *float64             `json:"accuracy,omitempty"`
	Loss               *float64             `json:"loss,omitempty"`
	CollectedAt        time.Time            `json:"collectedAt"`
}

// Snapshot fetches the current weights and output distribution of a
// served model.
func (c *Client) Snapshot(ctx context.Context, modelID string) (*integrity.ModelSnapshot, error) {
	path := fmt.Sprintf("/v1/models/%s/snapshot", modelID)

	body := &snapshotResp{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(body).
		Get(c.base + path)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	if len(body.LayerWeights) == 0 {
		return nil, fmt.Errorf("snapshot for %s has no layer weights", modelID)
	}

	collected := body.CollectedAt
	if collected.IsZero() {
		collected = time.Now().UTC()
	}
	return &integrity.ModelSnapshot{
		ModelID:            modelID,
		LayerWeights:       body.LayerWeights,
		OutputDistribution: body.OutputDistribution,
		Accuracy:           body.Accuracy,
		Loss:               body.Loss,
		CollectedAt:        collected,
	}, nil
}

type reconstructReq struct {
	Features []float64 `json:"features"`
}

type reconstructResp struct {
	Reconstructed []float64 `json:"reconstructed"`
	Code          int       `json:"code"`
	Msg           string    `json:"msg"`
}

// Reconstruct round-trips a feature vector through the serving side
// autoencoder.
func (c *Client) Reconstruct(ctx context.Context, features []float64) ([]float64, error) {
	body := &reconstructResp{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(reconstructReq{Features: features}).
		SetResult(body).
		Post(c.base + "/v1/reconstruct")
	if err != nil {
		return nil, fmt.Errorf("reconstruct request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	if body.Code != 0 {
		return nil, fmt.Errorf("serving: %d %s", body.Code, body.Msg)
	}
	if len(body.Reconstructed) != len(features) {
		return nil, fmt.Errorf("reconstruction length %d does not match input %d", len(body.Reconstructed), len(features))
	}
	return body.Reconstructed, nil
}
