package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antoniostano/beacon/internal/config"
	"github.com/antoniostano/beacon/internal/history"
	"github.com/antoniostano/beacon/internal/observability"
	"github.com/antoniostano/beacon/internal/quota"
	"github.com/antoniostano/beacon/internal/stream"
	"github.com/antoniostano/beacon/internal/summarizer"
)

func newTestServer(t *testing.T, limiters []quota.Limiter) (*httptest.Server, *history.InMemoryStore) {
	t.Helper()

	cfg := config.Config{
		DefaultProvider:  "openai",
		OpenAIModel:      "gpt-4o-mini",
		DefaultMediaType: "application/json",
	}
	store := history.NewInMemoryStore(100)
	if limiters == nil {
		limiters = []quota.Limiter{quota.NewMemoryLimiter(quota.ScopeSubject, 100000, "")}
	}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	pipeline := stream.NewPipeline(store, limiters, metrics, zap.NewNop())
	srv := New(cfg, store, limiters, pipeline, summarizer.NewMockSummarizer(), metrics, zap.NewNop())

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func postQuery(t *testing.T, ts *httptest.Server, subject, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/streaming_query", strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set(subjectHeader, subject)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return resp, string(raw)
}

func TestStreamingQueryTextMode(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := postQuery(t, ts, "u1", `{"query":"what is a pod?","media_type":"text/plain"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "what is a pod?") {
		t.Fatalf("body %q does not contain the generated answer", body)
	}
	if strings.Contains(body, "data: ") {
		t.Fatalf("text mode body contains structured framing: %q", body)
	}
}

func TestStreamingQueryStructuredMode(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	conversationID := uuid.NewString()
	resp, body := postQuery(t, ts, "u1",
		fmt.Sprintf(`{"query":"what is a pod?","conversation_id":%q}`, conversationID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	if len(frames) < 3 {
		t.Fatalf("got %d frames, want at least start, one token and end", len(frames))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first); err != nil {
		t.Fatalf("first frame is not JSON: %v", err)
	}
	if first["event"] != "start" {
		t.Fatalf("first frame event = %v, want start", first["event"])
	}
	if got := first["data"].(map[string]any)["conversation_id"]; got != conversationID {
		t.Fatalf("start frame conversation id = %v, want %s", got, conversationID)
	}

	var last map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[len(frames)-1], "data: ")), &last); err != nil {
		t.Fatalf("last frame is not JSON: %v", err)
	}
	if last["event"] != "end" {
		t.Fatalf("last frame event = %v, want end", last["event"])
	}
	if _, ok := last["available_quotas"].(map[string]any); !ok {
		t.Fatalf("end frame is missing available_quotas")
	}
}

func TestStreamingQueryPersistsTurn(t *testing.T) {
	ts, store := newTestServer(t, nil)

	conversationID := uuid.NewString()
	resp, _ := postQuery(t, ts, "u1",
		fmt.Sprintf(`{"query":"remember me","conversation_id":%q}`, conversationID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	turns, err := store.Get(context.Background(), "u1", conversationID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("persisted %d turns, want 1", len(turns))
	}
	if turns[0].Query != "remember me" {
		t.Fatalf("persisted query = %q", turns[0].Query)
	}
	if turns[0].TopicSummary == "" {
		t.Fatalf("first turn is missing its topic summary")
	}
}

func TestStreamingQueryRejectsMissingQuery(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, _ := postQuery(t, ts, "u1", `{"query":"  "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamingQueryRejectsBadConversationID(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, _ := postQuery(t, ts, "u1", `{"query":"hi","conversation_id":"not-a-uuid"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamingQueryGatedOnQuota(t *testing.T) {
	limiter := quota.NewMemoryLimiter(quota.ScopeCluster, 100000, "test-cluster")
	ts, _ := newTestServer(t, []quota.Limiter{limiter})

	resp, _ := postQuery(t, ts, "u1", `{"query":"first"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first query status = %d, want 200", resp.StatusCode)
	}

	revoke, err := http.Post(ts.URL+"/v1/quota/cluster/revoke", "application/json", nil)
	if err != nil {
		t.Fatalf("revoke error = %v", err)
	}
	revoke.Body.Close()
	if revoke.StatusCode != http.StatusOK {
		t.Fatalf("revoke status = %d, want 200", revoke.StatusCode)
	}

	resp, _ = postQuery(t, ts, "u1", `{"query":"second"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status after revoke = %d, want 429", resp.StatusCode)
	}

	increase, err := http.Post(ts.URL+"/v1/quota/cluster/increase", "application/json", nil)
	if err != nil {
		t.Fatalf("increase error = %v", err)
	}
	increase.Body.Close()

	resp, _ = postQuery(t, ts, "u1", `{"query":"third"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status after increase = %d, want 200", resp.StatusCode)
	}
}

func TestQuotaAdminUnknownLimiter(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/v1/quota/nope/revoke", "application/json", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetConversationHistory(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	conversationID := uuid.NewString()
	resp, _ := postQuery(t, ts, "u1",
		fmt.Sprintf(`{"query":"question one","conversation_id":%q}`, conversationID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d, want 200", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/conversations/"+conversationID, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set(subjectHeader, "u1")
	histResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer histResp.Body.Close()
	if histResp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want 200", histResp.StatusCode)
	}

	var payload struct {
		ConversationID string         `json:"conversation_id"`
		ChatHistory    []history.Turn `json:"chat_history"`
	}
	if err := json.NewDecoder(histResp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(payload.ChatHistory) != 1 {
		t.Fatalf("history has %d turns, want 1", len(payload.ChatHistory))
	}
	if payload.ChatHistory[0].Query != "question one" {
		t.Fatalf("history turn query = %q", payload.ChatHistory[0].Query)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, _ := postQuery(t, ts, "u1", `{"query":"stats please"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d, want 200", resp.StatusCode)
	}

	statsResp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer statsResp.Body.Close()
	if statsResp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", statsResp.StatusCode)
	}

	var snap observability.StageSnapshot
	if err := json.NewDecoder(statsResp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	found := false
	for _, st := range snap.Stages {
		if st.Stage == observability.StageStreamTotal && st.Samples >= 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("stats snapshot missing %s stage: %+v", observability.StageStreamTotal, snap.Stages)
	}
}

func TestInvalidQueryStreamsCannedResponse(t *testing.T) {
	cfg := config.Config{
		DefaultProvider:  "openai",
		OpenAIModel:      "gpt-4o-mini",
		DefaultMediaType: "text/plain",
	}
	store := history.NewInMemoryStore(100)
	limiters := []quota.Limiter{quota.NewNoopLimiter()}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	pipeline := stream.NewPipeline(store, limiters, metrics, zap.NewNop())
	srv := New(cfg, store, limiters, pipeline, summarizer.NewMockSummarizer(), metrics, zap.NewNop())
	srv.SetValidator(rejectAllValidator{})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	resp, body := postQuery(t, ts, "u1", `{"query":"off topic","media_type":"text/plain"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body != invalidQueryResponse {
		t.Fatalf("body = %q, want the canned invalid-query response", body)
	}
}

type rejectAllValidator struct{}

func (rejectAllValidator) Valid(string) bool { return false }
