package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			// Non-browser clients often omit Origin. Allow them.
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	},
}

// handleStreamingQueryWS streams the same encoded frames over a websocket
// for clients that cannot consume a chunked HTTP body. The client sends one
// query message; each wire frame arrives as one text message; the server
// closes the connection after the terminal event.
func (s *Server) handleStreamingQueryWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	var req queryRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInvalidFramePayloadData, "invalid query message"),
			time.Now().Add(5*time.Second))
		return
	}

	subjectID := r.Header.Get(subjectHeader)
	if strings.TrimSpace(subjectID) == "" {
		subjectID = r.URL.Query().Get("subject_id")
	}

	prepared, status, code, msg := s.prepare(r.Context(), subjectID, req)
	if status != 0 {
		_ = conn.WriteJSON(errorResponse{Error: msg, Code: code})
		return
	}

	emit := func(frame string) error {
		if frame == "" {
			return nil
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, []byte(frame))
	}

	if err := s.pipeline.Run(r.Context(), prepared.request, prepared.source, emit); err != nil {
		s.log.Error("websocket stream finished with transport-level error",
			zap.String("conversation_id", prepared.request.ConversationID),
			zap.Error(err),
		)
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second))
}
