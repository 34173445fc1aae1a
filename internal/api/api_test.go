package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quietriver/assistant/internal/domain"
	"github.com/quietriver/assistant/internal/llm"
	"github.com/quietriver/assistant/internal/ratelimit"
	"github.com/quietriver/assistant/internal/server"
	"github.com/quietriver/assistant/internal/session"
	"github.com/quietriver/assistant/internal/storage/sqlite"
	"github.com/quietriver/assistant/internal/tokens"
	"github.com/quietriver/assistant/internal/tools"
)

type testEnv struct {
	router *chi.Mux
	store  *sqlite.Store
}

// newTestEnv wires the full router against a sqlite store in a temp dir
// and the given fake model backend.
func newTestEnv(t *testing.T, llmHandler http.Handler, registry *tools.Registry, limiters Limiters) *testEnv {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	llmSrv := httptest.NewServer(llmHandler)
	t.Cleanup(llmSrv.Close)

	budgeter, err := tokens.NewBudgeter(8000)
	if err != nil {
		t.Fatalf("budgeter: %v", err)
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := session.NewResolver(store, session.DefaultCookieName)
	client := llm.NewClient(llmSrv.URL, "test-key", "test-model", llm.WithHTTPClient(llmSrv.Client()))

	h := NewHandlers(store, client, registry, budgeter, resolver, limiters, logger)

	router := chi.NewRouter()
	h.Mount(router, server.NewWrapper(logger, resolver))

	return &testEnv{router: router, store: store}
}

func defaultLimiters() Limiters {
	return Limiters{
		API:   ratelimit.NewFixedWindow(ratelimit.Config{Window: time.Minute, Max: 1000}),
		Chat:  ratelimit.NewFixedWindow(ratelimit.Config{Window: time.Minute, Max: 1000}),
		Auth:  ratelimit.NewFixedWindow(ratelimit.Config{Window: 15 * time.Minute, Max: 10}),
		Tools: ratelimit.NewFixedWindow(ratelimit.Config{Window: time.Hour, Max: 100}),
	}
}

// stubModel answers non-streaming completions with content, and
// streaming ones with the same content split into SSE deltas.
func stubModel(content string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Stream {
			writeSSE(w, content)
			return
		}
		json.NewEncoder(w).Encode(llm.ChatResponse{
			Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: content}}},
		})
	})
}

func writeSSE(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	// Two chunks, to exercise reassembly.
	half := len(content) / 2
	for _, part := range []string{content[:half], content[half:]} {
		frame := map[string]any{
			"choices": []map[string]any{{"delta": map[string]any{"content": part}}},
		}
		b, _ := json.Marshal(frame)
		fmt.Fprintf(w, "data: %s\n\n", b)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func mintSession(t *testing.T, store *sqlite.Store) (*http.Cookie, string) {
	t.Helper()
	userID := uuid.NewString()
	token := uuid.NewString()

	err := store.UpsertUser(context.Background(), &domain.User{
		ID: userID, Email: userID + "@example.com", Name: "Test User", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	err = store.CreateSession(context.Background(), &domain.Session{
		Token: token, UserID: userID,
		CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return &http.Cookie{Name: session.DefaultCookieName, Value: token}, userID
}

func doJSON(t *testing.T, env *testEnv, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, body string) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatalf("body is not an error envelope: %v (%s)", err, body)
	}
	return envelope.Error.Code
}

func TestListChatsUnauthenticated(t *testing.T) {
	env := newTestEnv(t, stubModel("hi"), nil, defaultLimiters())

	rec := doJSON(t, env, http.MethodGet, "/api/chats", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if code := errorCode(t, rec.Body.String()); code != "UNAUTHORIZED" {
		t.Errorf("code = %q, want UNAUTHORIZED", code)
	}
}

func TestCreateAndListChats(t *testing.T) {
	env := newTestEnv(t, stubModel("hi"), nil, defaultLimiters())
	cookie, _ := mintSession(t, env.store)

	rec := doJSON(t, env, http.MethodPost, "/api/chats", `{"title":"Trip"}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var chat domain.Chat
	if err := json.Unmarshal(rec.Body.Bytes(), &chat); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if chat.Title != "Trip" {
		t.Errorf("title = %q, want Trip", chat.Title)
	}

	rec = doJSON(t, env, http.MethodGet, "/api/chats", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var chats []domain.Chat
	if err := json.Unmarshal(rec.Body.Bytes(), &chats); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != chat.ID {
		t.Errorf("chats = %+v", chats)
	}
}

func TestCreateChatTitleValidation(t *testing.T) {
	env := newTestEnv(t, stubModel("hi"), nil, defaultLimiters())
	cookie, _ := mintSession(t, env.store)

	rec := doJSON(t, env, http.MethodPost, "/api/chats", `{"title":""}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec.Body.String()); code != "MISSING_REQUIRED_FIELD" {
		t.Errorf("code = %q", code)
	}

	long := strings.Repeat("x", 101)
	rec = doJSON(t, env, http.MethodPost, "/api/chats", `{"title":"`+long+`"}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec.Body.String()); code != "VALIDATION_ERROR" {
		t.Errorf("code = %q", code)
	}
}

func TestRateLimitExhaustion(t *testing.T) {
	limiters := defaultLimiters()
	limiters.API = ratelimit.NewFixedWindow(ratelimit.Config{Window: time.Minute, Max: 60})
	env := newTestEnv(t, stubModel("hi"), nil, limiters)
	cookie, _ := mintSession(t, env.store)

	var rec *httptest.ResponseRecorder
	for i := 0; i < 61; i++ {
		rec = doJSON(t, env, http.MethodPost, "/api/chats", `{"title":"Trip"}`, cookie)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("61st status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if code := errorCode(t, rec.Body.String()); code != "RATE_LIMITED" {
		t.Errorf("code = %q, want RATE_LIMITED", code)
	}
}

func TestChatStreamsAndPersists(t *testing.T) {
	env := newTestEnv(t, stubModel("Hello there, how can I help?"), nil, defaultLimiters())
	cookie, _ := mintSession(t, env.store)

	rec := doJSON(t, env, http.MethodPost, "/api/chat", `{"message":"Hello"}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "Hello there, how can I help?" {
		t.Errorf("body = %q", got)
	}
	chatID := rec.Header().Get("X-Chat-Id")
	if chatID == "" {
		t.Fatal("missing X-Chat-Id header")
	}

	rec = doJSON(t, env, http.MethodGet, "/api/chats/"+chatID, "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("get chat status = %d", rec.Code)
	}
	var detail struct {
		Chat     domain.Chat      `json:"chat"`
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Chat.Title != "Hello" {
		t.Errorf("derived title = %q", detail.Chat.Title)
	}
	if len(detail.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(detail.Messages))
	}
	if detail.Messages[0].Role != domain.RoleUser || detail.Messages[0].Content != "Hello" {
		t.Errorf("messages[0] = %+v", detail.Messages[0])
	}
	if detail.Messages[1].Role != domain.RoleAssistant {
		t.Errorf("messages[1] = %+v", detail.Messages[1])
	}
}

func TestChatExistingChatAccumulatesHistory(t *testing.T) {
	env := newTestEnv(t, stubModel("Again!"), nil, defaultLimiters())
	cookie, _ := mintSession(t, env.store)

	rec := doJSON(t, env, http.MethodPost, "/api/chat", `{"message":"First"}`, cookie)
	chatID := rec.Header().Get("X-Chat-Id")

	rec = doJSON(t, env, http.MethodPost, "/api/chat", `{"message":"Second","chatId":"`+chatID+`"}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	msgs, err := env.store.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
}

func TestChatMessageValidation(t *testing.T) {
	env := newTestEnv(t, stubModel("hi"), nil, defaultLimiters())
	cookie, _ := mintSession(t, env.store)

	rec := doJSON(t, env, http.MethodPost, "/api/chat", `{"message":""}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	long := strings.Repeat("x", 4001)
	rec = doJSON(t, env, http.MethodPost, "/api/chat", `{"message":"`+long+`"}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec.Body.String()); code != "VALIDATION_ERROR" {
		t.Errorf("code = %q", code)
	}

	rec = doJSON(t, env, http.MethodPost, "/api/chat", `{"message":"hi","chatId":"1234"}`, cookie)
	if code := errorCode(t, rec.Body.String()); code != "VALIDATION_ERROR" {
		t.Errorf("bad uuid code = %q", code)
	}
}

func TestChatWithToolRound(t *testing.T) {
	quoteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"c": 231.5, "h": 233.0, "l": 229.0, "o": 230.0, "pc": 228.9})
	}))
	defer quoteSrv.Close()

	var completions int
	model := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Stream {
			// Final answer after the tool round; the tool output travels
			// back in a tool-role message.
			last := req.Messages[len(req.Messages)-1]
			if last.Role != "tool" || !strings.Contains(last.Content, "231.5") {
				t.Errorf("last message = %+v", last)
			}
			writeSSE(w, "AAPL trades at $231.50.")
			return
		}
		completions++
		json.NewEncoder(w).Encode(llm.ChatResponse{
			Choices: []llm.Choice{{Message: llm.Message{
				Role: "assistant",
				ToolCalls: []llm.ToolCall{{
					ID:   "call_1",
					Type: "function",
					Function: llm.FunctionCall{
						Name:      "get_stock_quote",
						Arguments: `{"symbol":"AAPL"}`,
					},
				}},
			}}},
		})
	})

	registry := tools.NewRegistry(tools.NewStocks(quoteSrv.Client(), quoteSrv.URL, "k"))
	env := newTestEnv(t, model, registry, defaultLimiters())
	cookie, _ := mintSession(t, env.store)

	rec := doJSON(t, env, http.MethodPost, "/api/chat", `{"message":"How is AAPL doing?"}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "AAPL trades at $231.50." {
		t.Errorf("body = %q", got)
	}
	if completions != 1 {
		t.Errorf("completions = %d, want 1", completions)
	}

	chatID := rec.Header().Get("X-Chat-Id")
	msgs, err := env.store.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	assistant := msgs[1]
	if !strings.Contains(assistant.ToolResults, "get_stock_quote") {
		t.Errorf("toolResults = %q", assistant.ToolResults)
	}
}

func TestGetChatOwnership(t *testing.T) {
	env := newTestEnv(t, stubModel("hi"), nil, defaultLimiters())
	owner, _ := mintSession(t, env.store)
	stranger, _ := mintSession(t, env.store)

	rec := doJSON(t, env, http.MethodPost, "/api/chats", `{"title":"Mine"}`, owner)
	var chat domain.Chat
	if err := json.Unmarshal(rec.Body.Bytes(), &chat); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, env, http.MethodGet, "/api/chats/"+chat.ID, "", stranger)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec.Body.String()); code != "RECORD_NOT_FOUND" {
		t.Errorf("code = %q", code)
	}

	rec = doJSON(t, env, http.MethodDelete, "/api/chats/"+chat.ID, "", stranger)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign delete status = %d, want 404", rec.Code)
	}
}

func TestDeleteChat(t *testing.T) {
	env := newTestEnv(t, stubModel("hi"), nil, defaultLimiters())
	cookie, _ := mintSession(t, env.store)

	rec := doJSON(t, env, http.MethodPost, "/api/chats", `{"title":"Doomed"}`, cookie)
	var chat domain.Chat
	if err := json.Unmarshal(rec.Body.Bytes(), &chat); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, env, http.MethodDelete, "/api/chats/"+chat.ID, "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doJSON(t, env, http.MethodGet, "/api/chats/"+chat.ID, "", cookie)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", rec.Code)
	}
}

func TestCreateMessage(t *testing.T) {
	env := newTestEnv(t, stubModel("hi"), nil, defaultLimiters())
	cookie, _ := mintSession(t, env.store)

	rec := doJSON(t, env, http.MethodPost, "/api/chats", `{"title":"Notes"}`, cookie)
	var chat domain.Chat
	if err := json.Unmarshal(rec.Body.Bytes(), &chat); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, env, http.MethodPost, "/api/chats/"+chat.ID+"/messages",
		`{"role":"user","content":"remember this"}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var msg domain.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Role != domain.RoleUser || msg.Content != "remember this" {
		t.Errorf("message = %+v", msg)
	}

	rec = doJSON(t, env, http.MethodPost, "/api/chats/"+chat.ID+"/messages",
		`{"role":"system","content":"nope"}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad role status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec.Body.String()); code != "INVALID_INPUT" {
		t.Errorf("code = %q", code)
	}
}

func TestHealthAndCheckDB(t *testing.T) {
	env := newTestEnv(t, stubModel("hi"), nil, defaultLimiters())

	rec := doJSON(t, env, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec = doJSON(t, env, http.MethodGet, "/api/check-db", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check-db status = %d", rec.Code)
	}
	var probe struct {
		Status        string   `json:"status"`
		MissingTables []string `json:"missingTables"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &probe); err != nil {
		t.Fatal(err)
	}
	if probe.Status != "ok" || len(probe.MissingTables) != 0 {
		t.Errorf("probe = %+v", probe)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, stubModel("hi"), nil, defaultLimiters())
	cookie, _ := mintSession(t, env.store)

	rec := doJSON(t, env, http.MethodPost, "/api/auth/logout", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.DefaultCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("session cookie not expired")
	}

	rec = doJSON(t, env, http.MethodGet, "/api/chats", "", cookie)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d, want 401", rec.Code)
	}
}
