package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// TrainingSample is one image plus all of its annotation passes, as handed
// to the training engine. Blob bytes stay in the blob store; the engine
// fetches them by key.
type TrainingSample struct {
	ImageID  string            `json:"image_id"`
	BlobKey  string            `json:"blob_key"`
	Filename string            `json:"filename"`
	Labels   []json.RawMessage `json:"labels"`
}

// TrainRequest is the full input of one training run.
type TrainRequest struct {
	ProjectID   string           `json:"project_id"`
	ProjectType string           `json:"project_type"`
	Config      json.RawMessage  `json:"config"`
	Samples     []TrainingSample `json:"samples"`
}

// TrainResult is what a successful run hands back: the artifact reference
// and whatever diagnostics the engine produced.
type TrainResult struct {
	ArtifactRef string          `json:"artifact_ref"`
	Metrics     json.RawMessage `json:"metrics,omitempty"`
}

// engineErrorResponse represents an error response from the engine API
type engineErrorResponse struct {
	Error string `json:"error"`
}

// Engine is the external ML service: it trains models and serves
// predictions. The backend never interprets what either side of it means.
type Engine interface {
	Train(ctx context.Context, req TrainRequest) (*TrainResult, error)
	Predict(ctx context.Context, artifactRef, filename string, image []byte) (json.RawMessage, error)
}

// HTTPEngine talks to the engine over its HTTP API.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Train posts the full training set to the engine and blocks until the
// run finishes or the context is done. Callers must not hold any lock or
// transaction across this call.
func (e *HTTPEngine) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	var result TrainResult
	if err := e.post(ctx, "/train", req, &result); err != nil {
		return nil, err
	}
	if result.ArtifactRef == "" {
		return nil, fmt.Errorf("engine returned empty artifact reference")
	}

	log.Debug().
		Str("projectID", req.ProjectID).
		Str("artifactRef", result.ArtifactRef).
		Msg("Training run finished")
	return &result, nil
}

type predictRequest struct {
	ArtifactRef string `json:"artifact_ref"`
	Filename    string `json:"filename"`
	ImageData   string `json:"image_data"` // base64
}

// Predict runs one inference against the given artifact and returns the
// engine's structured prediction verbatim.
func (e *HTTPEngine) Predict(ctx context.Context, artifactRef, filename string, image []byte) (json.RawMessage, error) {
	req := predictRequest{
		ArtifactRef: artifactRef,
		Filename:    filename,
		ImageData:   base64.StdEncoding.EncodeToString(image),
	}

	var prediction json.RawMessage
	if err := e.post(ctx, "/predict", req, &prediction); err != nil {
		return nil, err
	}
	return prediction, nil
}

func (e *HTTPEngine) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling engine request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling engine %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading engine response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var engineErr engineErrorResponse
		if err := json.Unmarshal(respBody, &engineErr); err == nil && engineErr.Error != "" {
			return fmt.Errorf("engine %s returned %d: %s", path, resp.StatusCode, engineErr.Error)
		}
		return fmt.Errorf("engine %s returned %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding engine response: %w", err)
	}
	return nil
}
