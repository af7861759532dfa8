// Package runner wraps the external sandboxed code-execution service.
// The runner executes each test case asynchronously and reports the result
// via an HTTP callback to the URL embedded in the request.
package runner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arbiter/internal/judge/model"
	appErr "arbiter/pkg/errors"
)

// Config holds runner endpoint settings.
type Config struct {
	BaseURL   string        `yaml:"baseUrl"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Client is a thin HTTP client for the runner service.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

// NewClient creates a runner client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("runner base url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authToken: cfg.AuthToken,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

// Request is one per-test-case execution request.
// Stdin and ExpectedOutput must already be base64 encoded.
type Request struct {
	LanguageID     int     `json:"language_id"`
	SourceCode     string  `json:"source_code"`
	Stdin          string  `json:"stdin"`
	ExpectedOutput string  `json:"expected_output"`
	CPUTimeLimit   float64 `json:"cpu_time_limit"`
	MemoryLimit    int64   `json:"memory_limit"`
	CallbackURL    string  `json:"callback_url"`
}

// CallbackPayload is what the runner pushes to the callback URL.
// It is intentionally lean; full stdin/expected/actual output is only
// available through FetchDetail.
type CallbackPayload struct {
	Token         string         `json:"token"`
	Status        CallbackStatus `json:"status"`
	Stdout        string         `json:"stdout"`
	Stderr        string         `json:"stderr"`
	Time          string         `json:"time"`
	Memory        int64          `json:"memory"`
	CompileOutput string         `json:"compile_output"`
}

// CallbackStatus is the runner's numeric status with description.
type CallbackStatus struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Detail carries the enriched diagnostics fetched for wrong-answer verdicts.
type Detail struct {
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	CompileOutput  string `json:"compile_output"`
}

type batchRequest struct {
	Submissions []Request `json:"submissions"`
}

type batchItem struct {
	Token string `json:"token"`
	Error string `json:"error,omitempty"`
}

// SubmitBatch fires a batch of execution requests and returns one token per
// item, in request order.
func (c *Client) SubmitBatch(ctx context.Context, requests []Request) ([]string, error) {
	if len(requests) == 0 {
		return nil, appErr.ValidationError("requests", "required")
	}
	body, err := json.Marshal(batchRequest{Submissions: requests})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "encode batch failed")
	}

	url := c.baseURL + "/submissions/batch?base64_encoded=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, appErr.Wrap(err, appErr.InternalServerError)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RunnerUnreachable, "submit batch failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, appErr.Newf(appErr.RunnerRejected, "runner returned status %d", resp.StatusCode)
	}

	var items []batchItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, appErr.Wrapf(err, appErr.RunnerRejected, "decode batch response failed")
	}
	if len(items) != len(requests) {
		return nil, appErr.Newf(appErr.RunnerRejected, "runner returned %d tokens for %d requests", len(items), len(requests))
	}
	tokens := make([]string, len(items))
	for i, item := range items {
		if item.Token == "" {
			return nil, appErr.Newf(appErr.RunnerRejected, "runner rejected item %d: %s", i, item.Error)
		}
		tokens[i] = item.Token
	}
	return tokens, nil
}

// FetchDetail retrieves full diagnostics for one executed test case.
func (c *Client) FetchDetail(ctx context.Context, token string) (*Detail, error) {
	if token == "" {
		return nil, appErr.ValidationError("token", "required")
	}
	url := fmt.Sprintf("%s/submissions/%s?base64_encoded=true&fields=stdin,expected_output,stdout,stderr,compile_output", c.baseURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.InternalServerError)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RunnerUnreachable, "fetch detail failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, appErr.Newf(appErr.RunnerRejected, "runner returned status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.RunnerUnreachable)
	}
	var detail Detail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, appErr.Wrapf(err, appErr.RunnerRejected, "decode detail failed")
	}
	detail.Stdin = DecodeField(detail.Stdin)
	detail.ExpectedOutput = DecodeField(detail.ExpectedOutput)
	detail.Stdout = DecodeField(detail.Stdout)
	detail.Stderr = DecodeField(detail.Stderr)
	detail.CompileOutput = DecodeField(detail.CompileOutput)
	return &detail, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("X-Auth-Token", c.authToken)
	}
}

// Runner status ids. 1 and 2 are queue states and never reach callbacks
// for completed executions.
const (
	statusAccepted          = 3
	statusWrongAnswer       = 4
	statusTimeLimitExceeded = 5
	statusCompilationError  = 6
	statusRuntimeErrorFirst = 7
	statusRuntimeErrorLast  = 12
	statusInternalError     = 13
	statusExecFormatError   = 14
)

// StatusFromID maps a runner status id to a submission status.
func StatusFromID(id int) model.Status {
	switch {
	case id == statusAccepted:
		return model.StatusAccepted
	case id == statusWrongAnswer:
		return model.StatusWrongAnswer
	case id == statusTimeLimitExceeded:
		return model.StatusTimeLimitExceeded
	case id == statusCompilationError:
		return model.StatusCompilationError
	case id >= statusRuntimeErrorFirst && id <= statusRuntimeErrorLast:
		return model.StatusRuntimeError
	case id == statusInternalError, id == statusExecFormatError:
		return model.StatusUnknownError
	default:
		return model.StatusUnknownError
	}
}

// TimeToMs converts the runner's decimal-seconds time field to milliseconds.
func TimeToMs(t string) int64 {
	if t == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0
	}
	return int64(seconds * 1000)
}

// EncodeField base64-encodes a field for a base64_encoded request.
func EncodeField(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// DecodeField decodes a base64 field, tolerating plain text from runners
// configured without base64 encoding.
func DecodeField(s string) string {
	if s == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return string(decoded)
}

// LanguageIDs maps supported language names to runner language ids.
var LanguageIDs = map[string]int{
	"c":          50,
	"cpp":        54,
	"java":       62,
	"javascript": 63,
	"go":         60,
	"python":     71,
	"rust":       73,
}

// LanguageID resolves a language name, reporting whether it is supported.
func LanguageID(language string) (int, bool) {
	id, ok := LanguageIDs[strings.ToLower(strings.TrimSpace(language))]
	return id, ok
}
