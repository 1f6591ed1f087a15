package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eloysh/Gurenko-ai/internal/config"
	"github.com/eloysh/Gurenko-ai/internal/models"
)

// Client talks to the kie.ai asynchronous job API. It only knows how to create
// a task and read its status; the retry/poll policy belongs to the caller.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

// TaskStatus is the provider state of a single task, normalized into the
// generation status vocabulary.
type TaskStatus struct {
	Status     models.GenerationStatus
	ResultURLs []string
	FailMsg    string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		apiKey:  cfg.KIEAPIKey,
		baseURL: strings.TrimRight(cfg.KIEBaseURL, "/"),
		model:   cfg.KIEModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// CreateTask submits a text-to-image job and returns the provider task id.
func (c *Client) CreateTask(ctx context.Context, prompt, aspectRatio string) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"model": c.model,
		"input": map[string]any{
			"prompt":       prompt,
			"aspect_ratio": aspectRatio,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post kie: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("kie create task failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		return "", fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}

	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}

	if createResp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}

	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	if c.log != nil {
		c.log.Info("kie task created", "task_id", createResp.Data.TaskID)
	}

	return createResp.Data.TaskID, nil
}

// TaskStatus fetches the current state of a task. One call, no retries.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	params := url.Values{}
	params.Set("taskId", taskID)
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", params)
	if err != nil {
		return TaskStatus{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("get task status: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("kie task status failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		return TaskStatus{}, fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var statusResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID     string `json:"taskId"`
			State      string `json:"state"`
			ResultJSON string `json:"resultJson"`
			FailCode   string `json:"failCode"`
			FailMsg    string `json:"failMsg"`
		} `json:"data"`
	}

	if err := json.Unmarshal(rawBody, &statusResp); err != nil {
		return TaskStatus{}, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
	}

	if statusResp.Code != 200 {
		return TaskStatus{}, fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
	}

	switch statusResp.Data.State {
	case "success":
		if statusResp.Data.ResultJSON == "" {
			return TaskStatus{}, fmt.Errorf("empty resultJson in success response")
		}
		var result struct {
			ResultURLs []string `json:"resultUrls"`
		}
		if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
			return TaskStatus{}, fmt.Errorf("parse resultJson: %w", err)
		}
		return TaskStatus{Status: models.StatusCompleted, ResultURLs: result.ResultURLs}, nil

	case "fail":
		failMsg := statusResp.Data.FailMsg
		if failMsg == "" {
			failMsg = "unknown error"
		}
		return TaskStatus{Status: models.StatusFailed, FailMsg: failMsg}, nil

	case "waiting", "generating", "processing", "queued", "queueing":
		return TaskStatus{Status: models.StatusInProgress}, nil

	default:
		return TaskStatus{}, fmt.Errorf("unknown task state: %s", statusResp.Data.State)
	}
}

func (c *Client) endpoint(path string, params url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if params != nil {
		ref.RawQuery = params.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
