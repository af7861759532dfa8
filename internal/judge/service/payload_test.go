package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"arbiter/internal/common/storage"
	"arbiter/internal/judge/model"
	appErr "arbiter/pkg/errors"
)

type fakeStorage struct {
	objects map[string][]byte
}

func (f *fakeStorage) GetObject(_ context.Context, _, objectKey string) (io.ReadCloser, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, appErr.New(appErr.NotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) PutObject(_ context.Context, _, objectKey string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectKey] = data
	return nil
}

func (f *fakeStorage) StatObject(_ context.Context, _, objectKey string) (storage.ObjectStat, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return storage.ObjectStat{}, appErr.New(appErr.NotFound)
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func compressLines(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("create zstd writer: %v", err)
	}
	if _, err := writer.Write([]byte(strings.Join(lines, "\n"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func newTestBuilder(t *testing.T, cfg PayloadConfig, objects map[string][]byte) *PayloadBuilder {
	t.Helper()
	if cfg.CallbackBaseURL == "" {
		cfg.CallbackBaseURL = "http://judge.internal:8080"
	}
	return NewPayloadBuilder(&fakeStorage{objects: objects}, cfg)
}

func TestLoadTestCasesParsesArchive(t *testing.T) {
	t.Parallel()
	builder := newTestBuilder(t, PayloadConfig{}, map[string][]byte{
		"problems/42/testcases.jsonl.zst": compressLines(t,
			`{"input":"1 2","expected_output":"3"}`,
			``,
			`{"input":"4 5","expected_output":"9"}`,
		),
	})

	cases, err := builder.LoadTestCases(context.Background(), "problems/42/testcases.jsonl.zst")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("cases = %d, want 2", len(cases))
	}
	if cases[0].Index != 0 || cases[1].Index != 1 {
		t.Fatalf("indexes not sequential: %+v", cases)
	}
	if cases[1].Input != "4 5" || cases[1].ExpectedOutput != "9" {
		t.Fatalf("unexpected case %+v", cases[1])
	}
}

func TestLoadTestCasesRejectsOversizedArchive(t *testing.T) {
	t.Parallel()
	builder := newTestBuilder(t, PayloadConfig{MaxTestCases: 2}, map[string][]byte{
		"big.jsonl.zst": compressLines(t,
			`{"input":"a","expected_output":"1"}`,
			`{"input":"b","expected_output":"2"}`,
			`{"input":"c","expected_output":"3"}`,
		),
	})

	_, err := builder.LoadTestCases(context.Background(), "big.jsonl.zst")
	if appErr.GetCode(err) != appErr.LimitExceeded {
		t.Fatalf("err = %v, want LimitExceeded", err)
	}
}

func TestLoadTestCasesAbortsOnMalformedLine(t *testing.T) {
	t.Parallel()
	builder := newTestBuilder(t, PayloadConfig{}, map[string][]byte{
		"bad.jsonl.zst": compressLines(t,
			`{"input":"a","expected_output":"1"}`,
			`not json at all`,
			`{"input":"c","expected_output":"3"}`,
		),
	})

	_, err := builder.LoadTestCases(context.Background(), "bad.jsonl.zst")
	if appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}
}

func TestLoadTestCasesRejectsEmptyArchive(t *testing.T) {
	t.Parallel()
	builder := newTestBuilder(t, PayloadConfig{}, map[string][]byte{
		"empty.jsonl.zst": compressLines(t, ``),
	})

	_, err := builder.LoadTestCases(context.Background(), "empty.jsonl.zst")
	if appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}
}

func TestBuildBatchEncodesRequests(t *testing.T) {
	t.Parallel()
	builder := newTestBuilder(t, PayloadConfig{CallbackBaseURL: "http://judge.internal:8080/"}, nil)

	cases := []model.TestCase{
		{Index: 0, Input: "1 2", ExpectedOutput: "3"},
		{Index: 1, Input: "4 5", ExpectedOutput: "9"},
	}
	requests, err := builder.BuildBatch(BatchParams{
		SubmissionID:  "sub-1",
		Mode:          model.ModeSubmit,
		LanguageID:    60,
		SourceCode:    "package main",
		TimeLimitMs:   1500,
		MemoryLimitKB: 262144,
	}, cases)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(requests))
	}
	if requests[0].CallbackURL != "http://judge.internal:8080/internal/callbacks/sub-1/0?mode=submit" {
		t.Fatalf("callback url = %q", requests[0].CallbackURL)
	}
	if requests[1].CallbackURL != "http://judge.internal:8080/internal/callbacks/sub-1/1?mode=submit" {
		t.Fatalf("callback url = %q", requests[1].CallbackURL)
	}
	if requests[0].CPUTimeLimit != 1.5 {
		t.Fatalf("cpu limit = %v, want 1.5", requests[0].CPUTimeLimit)
	}
	if requests[0].LanguageID != 60 {
		t.Fatalf("language id = %d, want 60", requests[0].LanguageID)
	}
	// Fields travel base64 encoded.
	if requests[0].Stdin == "1 2" || requests[0].SourceCode == "package main" {
		t.Fatal("request fields must be base64 encoded")
	}
}
