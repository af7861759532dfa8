package service

import (
	"strings"
	"testing"

	appErr "arbiter/pkg/errors"
)

func testService() *SubmitService {
	return &SubmitService{cfg: Config{
		MaxSourceBytes:  1 << 10,
		MaxRunTestCases: 3,
		MaxRunCaseBytes: 16,
	}}
}

func TestValidateRejectsBadInput(t *testing.T) {
	t.Parallel()
	svc := testService()

	if _, err := svc.validate("go", "   "); appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("blank source: %v", err)
	}
	if _, err := svc.validate("go", strings.Repeat("a", 2<<10)); appErr.GetCode(err) != appErr.CodeTooLarge {
		t.Fatalf("oversized source: %v", err)
	}
	if _, err := svc.validate("cobol", "x"); appErr.GetCode(err) != appErr.LanguageNotSupported {
		t.Fatalf("unknown language: %v", err)
	}
	if id, err := svc.validate("go", "package main"); err != nil || id == 0 {
		t.Fatalf("valid input rejected: id=%d err=%v", id, err)
	}
}

func TestValidateRunCases(t *testing.T) {
	t.Parallel()
	svc := testService()

	if _, err := svc.validateRunCases(nil); appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("empty list: %v", err)
	}

	tooMany := []RunTestCase{{}, {}, {}, {}}
	if _, err := svc.validateRunCases(tooMany); appErr.GetCode(err) != appErr.LimitExceeded {
		t.Fatalf("over case cap: %v", err)
	}

	oversized := []RunTestCase{{Input: strings.Repeat("a", 32)}}
	if _, err := svc.validateRunCases(oversized); appErr.GetCode(err) != appErr.LimitExceeded {
		t.Fatalf("over byte cap: %v", err)
	}

	cases, err := svc.validateRunCases([]RunTestCase{
		{Input: "1 2", ExpectedOutput: "3"},
		{Input: "4 5", ExpectedOutput: "9"},
	})
	if err != nil {
		t.Fatalf("valid cases rejected: %v", err)
	}
	if len(cases) != 2 || cases[0].Index != 0 || cases[1].Index != 1 {
		t.Fatalf("cases = %+v", cases)
	}
	if cases[1].Input != "4 5" || cases[1].ExpectedOutput != "9" {
		t.Fatalf("case content mangled: %+v", cases[1])
	}
}
