// Package service contains the judging pipeline: payload construction,
// callback aggregation, finalize scheduling, and verdict computation.
package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"

	"arbiter/internal/common/storage"
	"arbiter/internal/judge/model"
	"arbiter/internal/judge/runner"
	appErr "arbiter/pkg/errors"
)

// PayloadConfig bounds test-case loading and points callbacks back at us.
type PayloadConfig struct {
	Bucket          string `yaml:"bucket"`
	MaxTestCases    int    `yaml:"maxTestCases"`
	MaxLineBytes    int    `yaml:"maxLineBytes"`
	CallbackBaseURL string `yaml:"callbackBaseUrl"`
}

// PayloadBuilder loads test-case archives from object storage and turns them
// into per-test runner requests.
type PayloadBuilder struct {
	storage storage.ObjectStorage
	cfg     PayloadConfig
}

// NewPayloadBuilder creates a payload builder.
func NewPayloadBuilder(store storage.ObjectStorage, cfg PayloadConfig) *PayloadBuilder {
	if cfg.Bucket == "" {
		cfg.Bucket = "problems"
	}
	if cfg.MaxTestCases <= 0 {
		cfg.MaxTestCases = 256
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 16 << 20
	}
	return &PayloadBuilder{storage: store, cfg: cfg}
}

type testCaseLine struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// LoadTestCases streams and decodes a zstd-compressed JSONL archive.
// Any malformed line aborts the whole load; a half-parsed test set must
// never reach the runner.
func (b *PayloadBuilder) LoadTestCases(ctx context.Context, objectKey string) ([]model.TestCase, error) {
	if objectKey == "" {
		return nil, appErr.ValidationError("testcase_key", "required")
	}
	obj, err := b.storage.GetObject(ctx, b.cfg.Bucket, objectKey)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ProblemNotFound, "open test-case archive %s failed", objectKey)
	}
	defer obj.Close()

	decoder, err := zstd.NewReader(obj)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "open zstd stream failed")
	}
	defer decoder.Close()

	scanner := bufio.NewScanner(decoder)
	scanner.Buffer(make([]byte, 64<<10), b.cfg.MaxLineBytes)

	var cases []model.TestCase
	lineNo := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineNo++
		if line == "" {
			continue
		}
		if len(cases) >= b.cfg.MaxTestCases {
			return nil, appErr.Newf(appErr.LimitExceeded, "test-case archive %s exceeds %d cases", objectKey, b.cfg.MaxTestCases)
		}
		var tc testCaseLine
		if err := json.Unmarshal([]byte(line), &tc); err != nil {
			return nil, appErr.Wrapf(err, appErr.ValidationFailed, "malformed test case at line %d of %s", lineNo, objectKey)
		}
		cases = append(cases, model.TestCase{
			Index:          len(cases),
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "read test-case archive %s failed", objectKey)
	}
	if len(cases) == 0 {
		return nil, appErr.Newf(appErr.ValidationFailed, "test-case archive %s is empty", objectKey)
	}
	return cases, nil
}

// BatchParams describes one submission to turn into runner requests.
type BatchParams struct {
	SubmissionID  string
	Mode          model.Mode
	LanguageID    int
	SourceCode    string
	TimeLimitMs   int64
	MemoryLimitKB int64
}

// BuildBatch produces one runner request per test case, each carrying a
// callback URL that encodes the submission id, test index, and mode.
func (b *PayloadBuilder) BuildBatch(params BatchParams, cases []model.TestCase) ([]runner.Request, error) {
	if params.SubmissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	if len(cases) == 0 {
		return nil, appErr.ValidationError("test_cases", "required")
	}
	encodedSource := runner.EncodeField(params.SourceCode)
	requests := make([]runner.Request, len(cases))
	for i, tc := range cases {
		requests[i] = runner.Request{
			LanguageID:     params.LanguageID,
			SourceCode:     encodedSource,
			Stdin:          runner.EncodeField(tc.Input),
			ExpectedOutput: runner.EncodeField(tc.ExpectedOutput),
			CPUTimeLimit:   float64(params.TimeLimitMs) / 1000.0,
			MemoryLimit:    params.MemoryLimitKB,
			CallbackURL:    b.callbackURL(params.SubmissionID, tc.Index, params.Mode),
		}
	}
	return requests, nil
}

func (b *PayloadBuilder) callbackURL(submissionID string, index int, mode model.Mode) string {
	return fmt.Sprintf("%s/internal/callbacks/%s/%d?mode=%s",
		strings.TrimRight(b.cfg.CallbackBaseURL, "/"), submissionID, index, mode)
}
