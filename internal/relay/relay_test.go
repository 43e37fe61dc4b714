package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"vaultchat/internal/auth"
	"vaultchat/internal/config"
	"vaultchat/internal/ratelimit"
	"vaultchat/internal/relay"
	"vaultchat/internal/testutil"
)

func TestComposePrependsSystemMessage(t *testing.T) {
	messages := []relay.Message{relay.TextMessage("user", "hi")}

	out := relay.Compose(messages, "You are helpful.")

	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Role != "system" {
		t.Errorf("expected system message first, got role %q", out[0].Role)
	}
	if text, _ := out[0].Text(); text != "You are helpful." {
		t.Errorf("unexpected system text: %q", text)
	}
}

func TestComposeMergesIntoExistingSystemMessage(t *testing.T) {
	messages := []relay.Message{
		relay.TextMessage("system", "Always answer in French."),
		relay.TextMessage("user", "hi"),
	}

	out := relay.Compose(messages, "You are helpful.")

	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	text, _ := out[0].Text()
	if text != "You are helpful.\n\nAlways answer in French." {
		t.Errorf("unexpected merged system text: %q", text)
	}

	// The input slice must not be mutated.
	if orig, _ := messages[0].Text(); orig != "Always answer in French." {
		t.Errorf("input slice was mutated: %q", orig)
	}
}

func TestComposeIsIdempotent(t *testing.T) {
	messages := []relay.Message{
		relay.TextMessage("system", "house rules"),
		relay.TextMessage("user", "hi"),
	}

	once := relay.Compose(messages, "persona prompt")
	twice := relay.Compose(once, "persona prompt")

	if len(twice) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(twice))
	}
	text, _ := twice[0].Text()
	want := "persona prompt\n\nhouse rules"
	if text != want {
		t.Errorf("prompt must appear exactly once: want %q, got %q", want, text)
	}
}

func TestComposeIsIdempotentWithoutExistingSystemMessage(t *testing.T) {
	messages := []relay.Message{relay.TextMessage("user", "hi")}

	once := relay.Compose(messages, "persona prompt")
	twice := relay.Compose(once, "persona prompt")

	if len(twice) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(twice))
	}
	text, _ := twice[0].Text()
	if text != "persona prompt" {
		t.Errorf("re-composing must not duplicate the prompt, got %q", text)
	}
}

func TestComposeEmptyPromptIsNoOp(t *testing.T) {
	messages := []relay.Message{relay.TextMessage("user", "hi")}
	out := relay.Compose(messages, "")
	if len(out) != 1 {
		t.Errorf("expected messages unchanged, got %d", len(out))
	}
}

func TestComposeNonTextSystemContentGetsStandaloneMessage(t *testing.T) {
	messages := []relay.Message{
		{Role: "system", Content: json.RawMessage(`[{"type":"text","text":"multi"}]`)},
		relay.TextMessage("user", "hi"),
	}

	out := relay.Compose(messages, "prompt")

	if len(out) != 3 {
		t.Fatalf("expected standalone system message prepended, got %d messages", len(out))
	}
	if text, _ := out[0].Text(); text != "prompt" {
		t.Errorf("unexpected prepended system text: %q", text)
	}
	if string(out[1].Content) != `[{"type":"text","text":"multi"}]` {
		t.Errorf("original system content was altered: %s", out[1].Content)
	}
}

func testRelay(t *testing.T, upstream *httptest.Server, q *testutil.MockQuota) *relay.Relay {
	t.Helper()
	models := config.NewModelsConfigFromModels([]config.Model{
		{ID: "test/model", Name: "Test", EndpointURL: upstream.URL, Temperature: 0.5, MaxTokens: 128},
	})
	personas, err := config.NewPersonaConfig("")
	if err != nil {
		t.Fatalf("failed to load builtin personas: %v", err)
	}
	return relay.New(config.UpstreamConfig{APIKey: "key", Referer: "ref", Title: "title"}, models, personas, q, upstream.Client())
}

func TestDoUpstreamErrorIsTyped(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "backend exploded")
	}))
	defer upstream.Close()

	r := testRelay(t, upstream, &testutil.MockQuota{})
	_, err := r.Do(context.Background(), relay.Request{
		Messages: []relay.Message{relay.TextMessage("user", "hi")},
		Model:    "test/model",
	})

	var upstreamErr *relay.UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstreamErr.Status != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", upstreamErr.Status)
	}
	if upstreamErr.Body != "backend exploded" {
		t.Errorf("expected upstream body captured, got %q", upstreamErr.Body)
	}
}

func TestDoAnonymousCallerLosesWebSearchSilently(t *testing.T) {
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"choices":[{"message":{"content":"hello"}}]}`)
	}))
	defer upstream.Close()

	quota := &testutil.MockQuota{
		CheckFunc: func(ctx context.Context, userID string) (ratelimit.Status, error) {
			t.Error("anonymous caller must not hit the quota")
			return ratelimit.Status{}, nil
		},
	}

	r := testRelay(t, upstream, quota)
	result, err := r.Do(context.Background(), relay.Request{
		Messages:  []relay.Message{relay.TextMessage("user", "hi")},
		Model:     "test/model",
		WebSearch: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.RateLimited {
		t.Error("anonymous web search must not be reported as rate limited")
	}
	if _, present := gotBody["web_search"]; present {
		t.Error("web_search flag must be dropped for anonymous callers")
	}
}

func TestDoRateLimitedCallerGetsSignalNotFailure(t *testing.T) {
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"choices":[{"message":{"content":"hello"}}]}`)
	}))
	defer upstream.Close()

	quota := &testutil.MockQuota{
		CheckFunc: func(ctx context.Context, userID string) (ratelimit.Status, error) {
			return ratelimit.Status{IsRateLimited: true, CurrentCount: 20}, nil
		},
		IncrementFunc: func(ctx context.Context, userID string, prior ratelimit.Status) error {
			t.Error("a limited caller must not be charged")
			return nil
		},
	}

	r := testRelay(t, upstream, quota)
	result, err := r.Do(context.Background(), relay.Request{
		Messages:  []relay.Message{relay.TextMessage("user", "hi")},
		Model:     "test/model",
		WebSearch: true,
		Identity:  auth.Identity{IsAuthenticated: true, UserID: "u1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.RateLimited {
		t.Error("expected RateLimited signal on the result")
	}
	if result.RateLimitMessage == "" {
		t.Error("expected a rate-limit message for the client")
	}
	if _, present := gotBody["web_search"]; present {
		t.Error("web_search flag must be dropped when the quota is exhausted")
	}
}

func TestDoChargesQuotaAndForwardsWebSearch(t *testing.T) {
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"choices":[{"message":{"content":"hello"}}]}`)
	}))
	defer upstream.Close()

	var incremented bool
	quota := &testutil.MockQuota{
		IncrementFunc: func(ctx context.Context, userID string, prior ratelimit.Status) error {
			incremented = true
			return nil
		},
	}

	r := testRelay(t, upstream, quota)
	result, err := r.Do(context.Background(), relay.Request{
		Messages:  []relay.Message{relay.TextMessage("user", "hi")},
		Model:     "test/model",
		WebSearch: true,
		Identity:  auth.Identity{IsAuthenticated: true, UserID: "u1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !incremented {
		t.Error("expected the quota to be charged")
	}
	if result.RateLimited {
		t.Error("caller under quota must not be limited")
	}
	if gotBody["web_search"] != true {
		t.Error("expected web_search forwarded upstream")
	}
}

func TestDoQuotaFailureFailsOpen(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":"hello"}}]}`)
	}))
	defer upstream.Close()

	quota := &testutil.MockQuota{
		CheckFunc: func(ctx context.Context, userID string) (ratelimit.Status, error) {
			return ratelimit.Status{}, errors.New("store down")
		},
	}

	r := testRelay(t, upstream, quota)
	result, err := r.Do(context.Background(), relay.Request{
		Messages:  []relay.Message{relay.TextMessage("user", "hi")},
		Model:     "test/model",
		WebSearch: true,
		Identity:  auth.Identity{IsAuthenticated: true, UserID: "u1"},
	})
	if err != nil {
		t.Fatalf("expected fail-open, got error: %v", err)
	}
	if result.RateLimited {
		t.Error("a broken quota store must not report the caller as limited")
	}
}

func TestCompleteExtractsAssistantContent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] == true {
			t.Error("Complete must force stream off")
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"Trip Planning"}}]}`)
	}))
	defer upstream.Close()

	r := testRelay(t, upstream, &testutil.MockQuota{})
	got, err := r.Complete(context.Background(), relay.Request{
		Messages: []relay.Message{relay.TextMessage("user", "summarize")},
		Model:    "test/model",
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Trip Planning" {
		t.Errorf("expected extracted content, got %q", got)
	}
}
