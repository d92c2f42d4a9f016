package stream

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/antoniostano/beacon/internal/history"
)

func decodeFrame(t *testing.T, frame string) map[string]any {
	t.Helper()
	if !strings.HasPrefix(frame, "data: ") || !strings.HasSuffix(frame, "\n\n") {
		t.Fatalf("frame %q is not data-prefixed and blank-line terminated", frame)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")), &payload); err != nil {
		t.Fatalf("frame payload is not valid JSON: %v", err)
	}
	return payload
}

func TestEncodeStartStructured(t *testing.T) {
	frame := Encode(StartEvent{ConversationID: "c-123"}, MediaTypeJSON)
	payload := decodeFrame(t, frame)
	if payload["event"] != "start" {
		t.Fatalf("event = %v, want start", payload["event"])
	}
	data := payload["data"].(map[string]any)
	if data["conversation_id"] != "c-123" {
		t.Fatalf("conversation_id = %v, want c-123", data["conversation_id"])
	}
}

func TestEncodeTokenStructured(t *testing.T) {
	frame := Encode(TokenEvent{ID: 4, Token: "hello"}, MediaTypeJSON)
	payload := decodeFrame(t, frame)
	if payload["event"] != "token" {
		t.Fatalf("event = %v, want token", payload["event"])
	}
	data := payload["data"].(map[string]any)
	if data["id"] != float64(4) || data["token"] != "hello" {
		t.Fatalf("data = %v, want id 4 token hello", data)
	}
}

func TestEncodeEndStructured(t *testing.T) {
	frame := Encode(EndEvent{
		ReferencedDocuments: []ReferencedDoc{{DocTitle: "Docs", DocURL: "http://x"}},
		Truncated:           false,
		InputTokens:         12,
		OutputTokens:        34,
		AvailableQuotas:     map[string]int64{"subject": 88},
	}, MediaTypeJSON)

	payload := decodeFrame(t, frame)
	if payload["event"] != "end" {
		t.Fatalf("event = %v, want end", payload["event"])
	}
	data := payload["data"].(map[string]any)
	docs := data["referenced_documents"].([]any)
	if len(docs) != 1 {
		t.Fatalf("referenced_documents = %v, want 1 entry", docs)
	}
	doc := docs[0].(map[string]any)
	if doc["doc_title"] != "Docs" || doc["doc_url"] != "http://x" {
		t.Fatalf("doc = %v, want Docs/http://x", doc)
	}
	if data["truncated"] != false {
		t.Fatalf("truncated = %v, want false", data["truncated"])
	}
	if data["input_tokens"] != float64(12) || data["output_tokens"] != float64(34) {
		t.Fatalf("token counts = %v/%v, want 12/34", data["input_tokens"], data["output_tokens"])
	}
	// available_quotas sits beside data, not inside it.
	quotas := payload["available_quotas"].(map[string]any)
	if quotas["subject"] != float64(88) {
		t.Fatalf("available_quotas = %v, want subject 88", quotas)
	}
}

func TestEncodeErrorStructuredOmitsZeroStatus(t *testing.T) {
	frame := Encode(ErrorEvent{Response: "Error while obtaining answer", Cause: "boom"}, MediaTypeJSON)
	payload := decodeFrame(t, frame)
	data := payload["data"].(map[string]any)
	if _, ok := data["status_code"]; ok {
		t.Fatalf("status_code present for zero status: %v", data)
	}

	frame = Encode(ErrorEvent{StatusCode: 413, Response: "Prompt is too long", Cause: "9000 tokens"}, MediaTypeJSON)
	payload = decodeFrame(t, frame)
	data = payload["data"].(map[string]any)
	if data["status_code"] != float64(413) {
		t.Fatalf("status_code = %v, want 413", data["status_code"])
	}
	if data["response"] != "Prompt is too long" || data["cause"] != "9000 tokens" {
		t.Fatalf("data = %v", data)
	}
}

func TestEncodeTextMode(t *testing.T) {
	cases := []struct {
		name  string
		event any
		want  string
	}{
		{"start is silent", StartEvent{ConversationID: "c"}, ""},
		{"token is raw", TokenEvent{ID: 0, Token: "Hel"}, "Hel"},
		{"end without refs is silent", EndEvent{InputTokens: 5, OutputTokens: 2}, ""},
		{
			"end with refs gets trailer",
			EndEvent{ReferencedDocuments: []ReferencedDoc{
				{DocTitle: "Docs", DocURL: "http://x"},
				{DocTitle: "More", DocURL: "http://y"},
			}},
			"\n\n---\n\nDocs: http://x\nMore: http://y",
		},
		{"error is summary colon cause", ErrorEvent{Response: "Prompt is too long", Cause: "way too big"}, "Prompt is too long: way too big"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Encode(tc.event, MediaTypeText); got != tc.want {
				t.Fatalf("Encode() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildReferencedDocsDedups(t *testing.T) {
	chunks := []history.RagChunk{
		{DocTitle: "Docs", DocURL: "http://x", Text: "alpha"},
		{DocTitle: "Docs", DocURL: "http://x", Text: "beta"},
		{DocTitle: "", DocURL: "", Text: "orphan"},
		{DocTitle: "More", DocURL: "http://y", Text: "gamma"},
	}
	docs := BuildReferencedDocs(chunks)
	if len(docs) != 2 {
		t.Fatalf("BuildReferencedDocs() = %d docs, want 2", len(docs))
	}
	if docs[0].DocTitle != "Docs" || docs[1].DocTitle != "More" {
		t.Fatalf("order = [%s, %s], want [Docs, More]", docs[0].DocTitle, docs[1].DocTitle)
	}
}
