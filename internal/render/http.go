package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// defaultHTTPTimeout bounds individual API calls, not whole render jobs.
const defaultHTTPTimeout = 30 * time.Second

// HTTPClient talks to a self-hosted render service over its JSON job API:
// POST /jobs submits a request, GET /jobs/{id} reports progress. The anchor
// image travels inline, base64-encoded, so the service needs no access to
// our filesystem.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

var _ Backend = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the render service at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		baseURL: baseURL,
	}
}

type submitRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AnchorImage    string `json:"anchor_image,omitempty"`
	FrameCount     int    `json:"frame_count"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	FPS            int    `json:"fps"`
	Seed           int64  `json:"seed,omitempty"`
}

type submitResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

type jobResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	OutputFile string `json:"output_file,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Submit posts a render job and returns the service's job ID.
func (c *HTTPClient) Submit(ctx context.Context, req *Request) (string, error) {
	payload := submitRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		FrameCount:     req.FrameCount,
		Width:          req.Width,
		Height:         req.Height,
		FPS:            req.FPS,
		Seed:           req.Seed,
	}
	if req.AnchorImagePath != "" {
		data, err := os.ReadFile(req.AnchorImagePath)
		if err != nil {
			return "", fmt.Errorf("reading anchor image: %w", err)
		}
		payload.AnchorImage = base64.StdEncoding.EncodeToString(data)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(respBody), 200))
	}
	if resp.Error != "" {
		return "", fmt.Errorf("render service error: %s", resp.Error)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("unexpected response: no job ID returned (body: %s)", truncate(string(respBody), 200))
	}
	return resp.ID, nil
}

// Poll fetches the current status of a render job.
func (c *HTTPClient) Poll(ctx context.Context, jobID string) (*Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp jobResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(respBody), 200))
	}

	return &Status{
		State:      resp.Status,
		OutputPath: resp.OutputFile,
		Message:    resp.Error,
	}, nil
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
