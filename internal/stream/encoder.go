package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Encode renders a stream event into its wire frame for the given media
// type. Encoding is total: every event value has a defined encoding for both
// media types and the function never fails.
func Encode(event any, mediaType MediaType) string {
	if mediaType == MediaTypeText {
		return encodeText(event)
	}
	return encodeStructured(event)
}

func encodeStructured(event any) string {
	switch e := event.(type) {
	case StartEvent:
		return formatStreamData(map[string]any{
			"event": "start",
			"data":  e,
		})
	case TokenEvent:
		return formatStreamData(map[string]any{
			"event": "token",
			"data":  e,
		})
	case EndEvent:
		docs := e.ReferencedDocuments
		if docs == nil {
			docs = []ReferencedDoc{}
		}
		quotas := e.AvailableQuotas
		if quotas == nil {
			quotas = map[string]int64{}
		}
		return formatStreamData(map[string]any{
			"event": "end",
			"data": map[string]any{
				"referenced_documents": docs,
				"truncated":            e.Truncated,
				"input_tokens":         e.InputTokens,
				"output_tokens":        e.OutputTokens,
			},
			"available_quotas": quotas,
		})
	case ErrorEvent:
		data := map[string]any{
			"response": e.Response,
			"cause":    e.Cause,
		}
		if e.StatusCode != 0 {
			data["status_code"] = e.StatusCode
		}
		return formatStreamData(map[string]any{
			"event": "error",
			"data":  data,
		})
	default:
		return ""
	}
}

func encodeText(event any) string {
	switch e := event.(type) {
	case StartEvent:
		return ""
	case TokenEvent:
		return e.Token
	case EndEvent:
		if len(e.ReferencedDocuments) == 0 {
			return ""
		}
		lines := make([]string, 0, len(e.ReferencedDocuments))
		for _, doc := range e.ReferencedDocuments {
			lines = append(lines, fmt.Sprintf("%s: %s", doc.DocTitle, doc.DocURL))
		}
		return "\n\n---\n\n" + strings.Join(lines, "\n")
	case ErrorEvent:
		return fmt.Sprintf("%s: %s", e.Response, e.Cause)
	default:
		return ""
	}
}

// formatStreamData frames one payload in the event stream format: a data
// line terminated by a blank line so consumers can split on it.
func formatStreamData(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are built from plain maps, strings, and ints; marshaling
		// cannot fail for them. Keep the encoder total regardless.
		return "data: {}\n\n"
	}
	return fmt.Sprintf("data: %s\n\n", data)
}
