package segmentation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultModNetVersion is the MODNet portrait matting model on Replicate
const DefaultModNetVersion = "da7d45f3b836795f945f221fc0b01a6d3ab7f5e163f13208948ad436001e2255"

// DefaultReplicateURL is the public Replicate API
const DefaultReplicateURL = "https://api.replicate.com"

// Prediction states reported by Replicate
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// ReplicateConfig configures the Replicate backend
type ReplicateConfig struct {
	BaseURL      string
	Token        string
	Version      string
	PollInterval time.Duration
	MaxWait      time.Duration
	Timeout      time.Duration
}

// ReplicateClient runs a segmentation model on Replicate
type ReplicateClient struct {
	baseURL      string
	token        string
	version      string
	pollInterval time.Duration
	maxWait      time.Duration
	httpClient   *http.Client
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	Image string `json:"image"`
}

// Prediction is the subset of the Replicate prediction object we use
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	URLs   struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

// NewReplicateClient creates a client. A token is required.
func NewReplicateClient(cfg ReplicateConfig) (*ReplicateClient, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultReplicateURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultModNetVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	return &ReplicateClient{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		token:        cfg.Token,
		version:      cfg.Version,
		pollInterval: cfg.PollInterval,
		maxWait:      cfg.MaxWait,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Name implements Segmenter
func (c *ReplicateClient) Name() string {
	return "replicate"
}

// Segment creates a prediction and waits for the mask URL
func (c *ReplicateClient) Segment(ctx context.Context, req Request) (*Result, error) {
	if req.ImageURL == "" {
		return nil, ErrNoImage
	}

	payload := predictionRequest{
		Version: c.version,
		Input:   predictionInput{Image: req.ImageURL},
	}
	body, err := c.sendRequest(ctx, http.MethodPost, c.baseURL+"/v1/predictions", payload)
	if err != nil {
		return nil, err
	}

	var pred Prediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrUpstream, err)
	}

	if isPending(pred.Status) && maskURL(pred.Output) == "" {
		if err := c.waitForPrediction(ctx, &pred); err != nil {
			return nil, err
		}
	}

	return resultFromPrediction(&pred)
}

// waitForPrediction polls until the prediction leaves the pending states
func (c *ReplicateClient) waitForPrediction(ctx context.Context, pred *Prediction) error {
	if c.pollInterval <= 0 || c.maxWait <= 0 || pred.ID == "" {
		return ErrPredictionPending
	}

	getURL := pred.URLs.Get
	if getURL == "" {
		getURL = c.baseURL + "/v1/predictions/" + pred.ID
	}

	deadline := time.NewTimer(c.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrPredictionPending
		case <-ticker.C:
		}

		body, err := c.sendRequest(ctx, http.MethodGet, getURL, nil)
		if err != nil {
			return err
		}
		var next Prediction
		if err := json.Unmarshal(body, &next); err != nil {
			return fmt.Errorf("%w: failed to parse response: %v", ErrUpstream, err)
		}
		*pred = next
		if !isPending(pred.Status) {
			return nil
		}
	}
}

func (c *ReplicateClient) sendRequest(ctx context.Context, method, url string, payload interface{}) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "wait")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

func resultFromPrediction(pred *Prediction) (*Result, error) {
	if u := maskURL(pred.Output); u != "" {
		return &Result{MaskURL: u}, nil
	}
	if isPending(pred.Status) {
		return nil, ErrPredictionPending
	}
	if msg := errorText(pred.Error); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrPredictionFailed, msg)
	}
	if pred.Status == StatusFailed || pred.Status == StatusCanceled {
		return nil, fmt.Errorf("%w: prediction %s", ErrPredictionFailed, pred.Status)
	}
	return nil, ErrNoOutput
}

func isPending(status string) bool {
	return status == StatusStarting || status == StatusProcessing
}

// maskURL accepts either a string output or a list whose first string is the mask
func maskURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
