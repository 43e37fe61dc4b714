package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"vaultchat/internal/api/handlers"
	"vaultchat/internal/app"
	"vaultchat/internal/auth"
	"vaultchat/internal/config"
	"vaultchat/internal/store"
	"vaultchat/internal/testutil"
)

const streamBody = "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
	"data: [DONE]\n\n"

// fixture wires real handlers against a fake upstream and a recording store.
type fixture struct {
	auth     *auth.Auth
	handlers *handlers.ChatHandlers
	upstream *httptest.Server

	mu      sync.Mutex
	records map[string][]store.Record
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{records: map[string][]store.Record{}}

	// The fake upstream streams SSE for stream requests and answers title
	// generation round trips otherwise.
	f.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] == true {
			io.WriteString(w, streamBody)
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"Greeting"}}]}`)
	}))
	t.Cleanup(f.upstream.Close)

	mockStore := &testutil.MockStore{
		WriteFunc: func(ctx context.Context, collection string, record store.Record) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.records[collection] = append(f.records[collection], record)
			return nil
		},
		FindFunc: func(ctx context.Context, collection string, filter store.Filter) ([]store.Record, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.records[collection], nil
		},
	}

	personas, err := config.NewPersonaConfig("")
	if err != nil {
		t.Fatalf("failed to load builtin personas: %v", err)
	}

	appConfig := &config.AppConfig{
		Upstream: config.UpstreamConfig{APIKey: "key", Referer: "ref", Title: "title"},
		Auth: config.AuthConfig{
			JWTSecret:       []byte("test-secret-key-of-sufficient-length"),
			TokenExpiration: time.Hour,
		},
		WebSearch: config.WebSearchConfig{DailyLimit: 20},
		Models: config.NewModelsConfigFromModels([]config.Model{
			{ID: "test/model", Name: "Test", EndpointURL: f.upstream.URL, Temperature: 0.5, MaxTokens: 128},
		}),
		Personas: personas,
	}

	f.auth = auth.New(appConfig.Auth, store.NewUsers(mockStore))
	f.handlers = handlers.NewChatHandlers(app.NewConfig(mockStore, appConfig))
	return f
}

func (f *fixture) authedRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	token, err := f.auth.GenerateToken("u1", auth.PrimaryProvider)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func (f *fixture) stored(collection string) []store.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[collection]
}

func TestChatHandlerStreamPassThrough(t *testing.T) {
	f := newFixture(t)

	body := `{"model":"test/model","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := httptest.NewRecorder()

	f.auth.OptionalMiddleware(http.HandlerFunc(f.handlers.ChatHandler)).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != streamBody {
		t.Errorf("stream must pass through byte-for-byte:\nwant %q\ngot  %q", streamBody, got)
	}
	if w.Header().Get(handlers.RateLimitReachedHeader) != "" {
		t.Error("no rate-limit header expected for an unlimited caller")
	}
}

func TestChatHandlerRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)

	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[]}`))
	w := httptest.NewRecorder()
	f.auth.OptionalMiddleware(http.HandlerFunc(f.handlers.ChatHandler)).ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty messages, got %d", w.Code)
	}
}

func TestChatHandlerNonStreamAugmentsRateLimitSignal(t *testing.T) {
	f := newFixture(t)

	// Seed a user whose quota is already exhausted today.
	today := time.Now().UTC().Format("2006-01-02")
	f.mu.Lock()
	f.records[store.CollectionUsers] = []store.Record{{
		"_id":              "u1",
		"web_search_usage": map[string]any{"date": today, "counter": float64(20)},
	}}
	f.mu.Unlock()

	body := `{"model":"test/model","web_search":true,"messages":[{"role":"user","content":"hi"}]}`
	r := f.authedRequest(t, http.MethodPost, "/api/chat", body)
	w := httptest.NewRecorder()
	f.auth.OptionalMiddleware(http.HandlerFunc(f.handlers.ChatHandler)).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if resp["rate_limit_reached"] != true {
		t.Errorf("expected rate_limit_reached in the body, got %v", resp)
	}
	if resp["rate_limit_message"] == "" {
		t.Error("expected a rate-limit message in the body")
	}
	if _, ok := resp["choices"]; !ok {
		t.Error("the upstream body must still be returned")
	}
}

func TestExchangeHandlerStreamsAndPersists(t *testing.T) {
	f := newFixture(t)

	body := `{"prior_count":0,"model":"test/model","messages":[{"role":"user","content":"hi"}]}`
	r := f.authedRequest(t, http.MethodPost, "/api/chat/exchange", body)
	w := httptest.NewRecorder()
	f.auth.Middleware(http.HandlerFunc(f.handlers.ExchangeHandler)).ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}

	got := w.Body.String()
	if !strings.HasPrefix(got, streamBody) {
		t.Errorf("relayed stream must come through unmodified:\nwant prefix %q\ngot %q", streamBody, got)
	}

	chats := f.stored(store.CollectionChats)
	if len(chats) != 1 {
		t.Fatalf("expected one chat created, got %d", len(chats))
	}
	chatID, _ := chats[0]["_id"].(string)
	if !strings.HasSuffix(got, "data: CHAT_ID:"+chatID+"\n\n") {
		t.Errorf("expected trailing chat id frame for %q, got %q", chatID, got)
	}

	messages := f.stored(store.CollectionMessages)
	if len(messages) != 2 {
		t.Fatalf("expected the exchange pair persisted, got %d messages", len(messages))
	}
	byOrder := map[int]store.Record{}
	for _, m := range messages {
		byOrder[int(m["ord"].(float64))] = m
	}
	if byOrder[1]["role"] != store.RoleUser || byOrder[1]["content"] != "hi" {
		t.Errorf("unexpected message at order 1: %v", byOrder[1])
	}
	if byOrder[2]["role"] != store.RoleAssistant || byOrder[2]["content"] != "Hello" {
		t.Errorf("expected reconstructed assistant text at order 2, got %v", byOrder[2])
	}
}

func TestExchangeHandlerRequiresTrailingUserMessage(t *testing.T) {
	f := newFixture(t)

	body := `{"prior_count":0,"messages":[{"role":"assistant","content":"hello"}]}`
	r := f.authedRequest(t, http.MethodPost, "/api/chat/exchange", body)
	w := httptest.NewRecorder()
	f.auth.Middleware(http.HandlerFunc(f.handlers.ExchangeHandler)).ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a trailing user message, got %d", w.Code)
	}
}

func TestExchangeHandlerRequiresAuthentication(t *testing.T) {
	f := newFixture(t)

	body := `{"prior_count":0,"messages":[{"role":"user","content":"hi"}]}`
	r := httptest.NewRequest(http.MethodPost, "/api/chat/exchange", strings.NewReader(body))
	w := httptest.NewRecorder()
	f.auth.Middleware(http.HandlerFunc(f.handlers.ExchangeHandler)).ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a session, got %d", w.Code)
	}
}
