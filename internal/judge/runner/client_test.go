package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"arbiter/internal/judge/model"
	appErr "arbiter/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL, AuthToken: "secret"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func TestSubmitBatchReturnsTokensInOrder(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/submissions/batch" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("base64_encoded") != "true" {
			t.Error("base64_encoded flag missing")
		}
		if r.Header.Get("X-Auth-Token") != "secret" {
			t.Error("auth token missing")
		}
		var body struct {
			Submissions []Request `json:"submissions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		items := make([]map[string]string, len(body.Submissions))
		for i := range body.Submissions {
			items[i] = map[string]string{"token": "tok-" + string(rune('a'+i))}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(items)
	})

	tokens, err := client.SubmitBatch(context.Background(), []Request{
		{LanguageID: 60}, {LanguageID: 60},
	})
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "tok-a" || tokens[1] != "tok-b" {
		t.Fatalf("tokens = %v", tokens)
	}
}

func TestSubmitBatchRejectedOnServerError(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	_, err := client.SubmitBatch(context.Background(), []Request{{LanguageID: 60}})
	if appErr.GetCode(err) != appErr.RunnerRejected {
		t.Fatalf("err = %v, want RunnerRejected", err)
	}
}

func TestSubmitBatchRejectsTokenCountMismatch(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"token":"tok-a"}]`))
	})

	_, err := client.SubmitBatch(context.Background(), []Request{
		{LanguageID: 60}, {LanguageID: 60},
	})
	if appErr.GetCode(err) != appErr.RunnerRejected {
		t.Fatalf("err = %v, want RunnerRejected", err)
	}
}

func TestSubmitBatchUnreachable(t *testing.T) {
	t.Parallel()
	client, err := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	_, err = client.SubmitBatch(context.Background(), []Request{{LanguageID: 60}})
	if appErr.GetCode(err) != appErr.RunnerUnreachable {
		t.Fatalf("err = %v, want RunnerUnreachable", err)
	}
}

func TestFetchDetailDecodesFields(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/submissions/tok-a" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"stdin":           EncodeField("1 2"),
			"expected_output": EncodeField("3"),
			"stdout":          EncodeField("4"),
		})
	})

	detail, err := client.FetchDetail(context.Background(), "tok-a")
	if err != nil {
		t.Fatalf("fetch detail: %v", err)
	}
	if detail.Stdin != "1 2" || detail.ExpectedOutput != "3" || detail.Stdout != "4" {
		t.Fatalf("detail = %+v", detail)
	}
}

func TestStatusFromID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		id   int
		want model.Status
	}{
		{3, model.StatusAccepted},
		{4, model.StatusWrongAnswer},
		{5, model.StatusTimeLimitExceeded},
		{6, model.StatusCompilationError},
		{7, model.StatusRuntimeError},
		{12, model.StatusRuntimeError},
		{13, model.StatusUnknownError},
		{14, model.StatusUnknownError},
		{99, model.StatusUnknownError},
	}
	for _, tc := range cases {
		if got := StatusFromID(tc.id); got != tc.want {
			t.Errorf("StatusFromID(%d) = %s, want %s", tc.id, got, tc.want)
		}
	}
}

func TestTimeToMs(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0.001", 1},
		{"1.5", 1500},
		{"not-a-number", 0},
	}
	for _, tc := range cases {
		if got := TimeToMs(tc.in); got != tc.want {
			t.Errorf("TimeToMs(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
