package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"film-forge-server/config"
	"film-forge-server/pkg/logger"
)

// Generator is the text-to-video adapter. Submit either returns a finished
// video URL immediately or a job id to poll.
type Generator interface {
	Submit(ctx context.Context, req Request) (Submission, error)
	Poll(ctx context.Context, jobID string) (PollResult, error)
}

// Request carries the parameters of one clip generation.
type Request struct {
	Prompt      string
	Model       string
	Seconds     int
	Resolution  string
	AspectRatio string
	ImageURL    string // optional image-to-video reference
}

// Submission is the immediate response to a Submit call. Exactly one of
// VideoURL and JobID is set on success.
type Submission struct {
	VideoURL string
	JobID    string
}

// PollResult is one status check of a pending job.
type PollResult struct {
	VideoURL string
	Failed   bool
	Message  string
}

// Done reports whether the job reached a terminal state.
func (r PollResult) Done() bool {
	return r.Failed || r.VideoURL != ""
}

// Client talks to a submit/poll style video generation API.
type Client struct {
	baseURL      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.VideoGen.BaseURL, "/"),
		apiKey:       cfg.VideoGen.APIKey,
		defaultModel: cfg.VideoGen.DefaultModel,
		httpClient:   &http.Client{Timeout: cfg.VideoGen.Timeout},
	}
}

type submitRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	Duration    int    `json:"duration"`
	Resolution  string `json:"resolution,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type submitResponse struct {
	VideoURL string `json:"video_url"`
	TaskID   string `json:"task_id"`
	Error    string `json:"error,omitempty"`
}

type statusResponse struct {
	Status   string `json:"status"` // queued, processing, completed, failed
	VideoURL string `json:"video_url"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) Submit(ctx context.Context, req Request) (Submission, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	payload, err := json.Marshal(submitRequest{
		Prompt:      req.Prompt,
		Model:       model,
		Duration:    req.Seconds,
		Resolution:  req.Resolution,
		AspectRatio: req.AspectRatio,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		return Submission{}, fmt.Errorf("failed to marshal submit request: %w", err)
	}

	body, err := c.post(ctx, "/videos/generations", payload)
	if err != nil {
		return Submission{}, err
	}

	var result submitResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return Submission{}, fmt.Errorf("failed to decode submit response: %w", err)
	}
	if result.Error != "" {
		return Submission{}, &CallError{Op: "submit", Err: fmt.Errorf("%s", result.Error)}
	}
	if result.VideoURL == "" && result.TaskID == "" {
		return Submission{}, &CallError{Op: "submit", Err: fmt.Errorf("response carries neither video_url nor task_id")}
	}

	return Submission{VideoURL: result.VideoURL, JobID: result.TaskID}, nil
}

func (c *Client) Poll(ctx context.Context, jobID string) (PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos/generations/"+jobID, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PollResult{}, &CallError{Op: "poll", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PollResult{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return PollResult{}, &CallError{Op: "poll", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var result statusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return PollResult{}, fmt.Errorf("failed to decode status response: %w", err)
	}

	switch result.Status {
	case "completed":
		return PollResult{VideoURL: result.VideoURL}, nil
	case "failed":
		return PollResult{Failed: true, Message: result.Error}, nil
	default:
		return PollResult{}, nil
	}
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CallError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		logger.Errorf("Video generation request failed with status %d: %s", resp.StatusCode, string(body))
		return nil, &CallError{Op: "submit", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	return body, nil
}

// CallError reports a transport or non-success response from the adapter.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("video adapter %s failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
