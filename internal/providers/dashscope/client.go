package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"batchgen/internal/batch"
	"batchgen/internal/infra"
)

// ErrMissingAPIKey is returned when a call is made without a secret.
var ErrMissingAPIKey = errors.New("dashscope: api key is required")

// Options configures the DashScope asynchronous image synthesis client.
type Options struct {
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client submits text-to-image tasks to DashScope, polls them and downloads
// the finished artifacts. It implements batch.Provider and batch.Fetcher.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type synthesisRequest struct {
	Model      string         `json:"model"`
	Input      synthesisInput `json:"input"`
	Parameters map[string]any `json:"parameters"`
}

type synthesisInput struct {
	Prompt string `json:"prompt"`
	RefImg string `json:"ref_img,omitempty"`
}

type taskResponse struct {
	RequestID string     `json:"request_id"`
	Output    taskOutput `json:"output"`
	Code      string     `json:"code"`
	Message   string     `json:"message"`
}

type taskOutput struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
	Results    []struct {
		URL     string `json:"url"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"results"`
	TaskMetrics struct {
		Total     int `json:"TOTAL"`
		Succeeded int `json:"SUCCEEDED"`
		Failed    int `json:"FAILED"`
	} `json:"task_metrics"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with defaults for anything left blank.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "wanx2.1-t2i-turbo"
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{baseURL: baseURL, model: model, httpClient: httpClient, logger: logger}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Submit creates an asynchronous synthesis task and returns its task id.
func (c *Client) Submit(ctx context.Context, in batch.Input, secret string) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return "", errors.New("dashscope: prompt is required")
	}
	payload := synthesisRequest{
		Model:      c.model,
		Input:      synthesisInput{Prompt: prompt, RefImg: strings.TrimSpace(in.ImageURL)},
		Parameters: buildParameters(in),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("dashscope: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/services/aigc/text2image/image-synthesis", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("dashscope: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-Async", "enable")

	var decoded taskResponse
	if err := c.do(req, secret, &decoded); err != nil {
		return "", err
	}
	taskID := strings.TrimSpace(decoded.Output.TaskID)
	if taskID == "" {
		return "", &batch.ProviderError{Code: decoded.Code, Message: "response carried no task id"}
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("request_id", decoded.RequestID).
		Str("task_id", taskID).
		Msg("dashscope: task submitted")
	return taskID, nil
}

// Query reports the state of a previously submitted task.
func (c *Client) Query(ctx context.Context, taskID, secret string) (batch.ProviderStatus, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return batch.ProviderStatus{}, ErrMissingAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return batch.ProviderStatus{}, fmt.Errorf("dashscope: build request: %w", err)
	}
	var decoded taskResponse
	if err := c.do(req, secret, &decoded); err != nil {
		return batch.ProviderStatus{}, err
	}
	// UNKNOWN means the task is not visible to this key, or has expired.
	if strings.EqualFold(strings.TrimSpace(decoded.Output.TaskStatus), "UNKNOWN") {
		return batch.ProviderStatus{}, &batch.ProviderError{
			StatusCode: http.StatusOK,
			Code:       "UNKNOWN",
			Message:    "task " + taskID + " not found",
		}
	}
	return toStatus(decoded.Output), nil
}

// Fetch streams the artifact at rawURL. The caller closes the body.
func (c *Client) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("dashscope: invalid result url: %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("dashscope: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("dashscope: download: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("dashscope: download status %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(req *http.Request, secret string, out *taskResponse) error {
	req.Header.Set("Authorization", "Bearer "+secret)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dashscope: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("dashscope: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		perr := &batch.ProviderError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
		var detail taskResponse
		if err := json.Unmarshal(raw, &detail); err == nil && (detail.Code != "" || detail.Message != "") {
			perr.Code, perr.Message = detail.Code, detail.Message
		} else {
			perr.Message = strings.TrimSpace(string(raw))
		}
		c.logger.Debug().Int("status", resp.StatusCode).Str("code", perr.Code).Msg("dashscope: request rejected")
		return perr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("dashscope: decode response: %w", err)
	}
	if out.Code != "" {
		return &batch.ProviderError{StatusCode: resp.StatusCode, Code: out.Code, Message: out.Message}
	}
	return nil
}

func buildParameters(in batch.Input) map[string]any {
	params := map[string]any{
		"size": RatioSize(in.Ratio),
		"n":    1,
	}
	if in.Seed != nil {
		params["seed"] = *in.Seed
	}
	if wm := strings.TrimSpace(in.Watermark); wm != "" {
		on, err := strconv.ParseBool(wm)
		params["watermark"] = err != nil || on
	}
	switch in.Translate {
	case batch.TranslateOn:
		params["prompt_extend"] = true
	case batch.TranslateOff:
		params["prompt_extend"] = false
	}
	for k, v := range in.Extra {
		if _, taken := params[k]; !taken {
			params[k] = v
		}
	}
	return params
}

// RatioSize maps an aspect ratio to a DashScope size token.
func RatioSize(ratio string) string {
	switch strings.TrimSpace(ratio) {
	case "16:9":
		return "1280*720"
	case "9:16":
		return "720*1280"
	case "4:3":
		return "1280*960"
	case "3:4":
		return "960*1280"
	case "3:2":
		return "1248*832"
	case "2:3":
		return "832*1248"
	default:
		return "1024*1024"
	}
}

func toStatus(out taskOutput) batch.ProviderStatus {
	switch strings.ToUpper(strings.TrimSpace(out.TaskStatus)) {
	case "PENDING":
		return batch.ProviderStatus{State: batch.ProviderQueued}
	case "RUNNING":
		status := batch.ProviderStatus{State: batch.ProviderRunning}
		if m := out.TaskMetrics; m.Total > 0 {
			p := float64(m.Succeeded+m.Failed) / float64(m.Total)
			status.Progress = &p
		}
		return status
	case "SUCCEEDED":
		for _, r := range out.Results {
			if u := strings.TrimSpace(r.URL); u != "" {
				return batch.ProviderStatus{State: batch.ProviderSucceeded, ResultURL: u}
			}
		}
		status := batch.ProviderStatus{State: batch.ProviderSucceeded}
		if len(out.Results) > 0 && out.Results[0].Code != "" {
			status.State = batch.ProviderFailed
			status.ErrorCode = out.Results[0].Code
			status.ErrorMessage = out.Results[0].Message
		}
		return status
	default:
		code := out.Code
		if code == "" {
			code = strings.ToUpper(strings.TrimSpace(out.TaskStatus))
		}
		return batch.ProviderStatus{State: batch.ProviderFailed, ErrorCode: code, ErrorMessage: out.Message}
	}
}

// parseRetryAfter understands both delta-seconds and HTTP-date values.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
