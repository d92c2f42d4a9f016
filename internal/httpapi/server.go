package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antoniostano/beacon/internal/config"
	"github.com/antoniostano/beacon/internal/history"
	"github.com/antoniostano/beacon/internal/observability"
	"github.com/antoniostano/beacon/internal/policy"
	"github.com/antoniostano/beacon/internal/quota"
	"github.com/antoniostano/beacon/internal/stream"
	"github.com/antoniostano/beacon/internal/summarizer"
)

// subjectHeader identifies the caller. Authentication is handled upstream;
// by the time a request reaches this service the header is trusted.
const subjectHeader = "X-Subject-ID"

const invalidQueryResponse = "I can only answer questions about this product. " +
	"Please rephrase your question."

// QueryValidator decides whether a query should reach the model. The real
// validator lives upstream; the default accepts everything.
type QueryValidator interface {
	Valid(query string) bool
}

type allowAllValidator struct{}

func (allowAllValidator) Valid(string) bool { return true }

type Server struct {
	cfg        config.Config
	store      history.Store
	limiters   []quota.Limiter
	pipeline   *stream.Pipeline
	summarizer summarizer.Summarizer
	validator  QueryValidator
	metrics    *observability.Metrics
	log        *zap.Logger
}

func New(cfg config.Config, store history.Store, limiters []quota.Limiter, pipeline *stream.Pipeline, sum summarizer.Summarizer, metrics *observability.Metrics, log *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		limiters:   limiters,
		pipeline:   pipeline,
		summarizer: sum,
		validator:  allowAllValidator{},
		metrics:    metrics,
		log:        log,
	}
}

// SetValidator installs a query validator. Must be called before Router.
func (s *Server) SetValidator(v QueryValidator) {
	if v != nil {
		s.validator = v
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/streaming_query", s.handleStreamingQuery)
	r.Get("/v1/streaming_query/ws", s.handleStreamingQueryWS)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Post("/v1/quota/{name}/revoke", s.handleRevokeQuota)
	r.Post("/v1/quota/{name}/increase", s.handleIncreaseQuota)
	r.Get("/v1/stats", s.handleStats)
	r.Post("/v1/stats/reset", s.handleStatsReset)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.Stages.Snapshot())
}

func (s *Server) handleStatsReset(w http.ResponseWriter, _ *http.Request) {
	s.metrics.Stages.Reset()
	respondJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

type queryRequest struct {
	Query          string       `json:"query"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Provider       string       `json:"provider,omitempty"`
	Model          string       `json:"model,omitempty"`
	MediaType      string       `json:"media_type,omitempty"`
	Attachments    []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

// preparedQuery is the resolved form of a streaming request after
// validation: identities minted, history loaded, media type settled.
type preparedQuery struct {
	request   stream.Request
	source    <-chan summarizer.Item
	mediaType stream.MediaType
}

func (s *Server) handleStreamingQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	prepared, status, code, msg := s.prepare(r.Context(), r.Header.Get(subjectHeader), req)
	if status != 0 {
		respondError(w, status, code, msg)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "unsupported", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", string(prepared.mediaType))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	emit := func(frame string) error {
		if frame == "" {
			return nil
		}
		if _, err := io.WriteString(w, frame); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := s.pipeline.Run(r.Context(), prepared.request, prepared.source, emit); err != nil {
		// Tokens already reached the client; all that is left is to surface
		// the failure to the transport layer.
		s.log.Error("stream finished with transport-level error",
			zap.String("conversation_id", prepared.request.ConversationID),
			zap.Error(err),
		)
	}
}

// prepare validates and resolves a query. A non-zero status means the
// request must be rejected before any stream output.
func (s *Server) prepare(ctx context.Context, subjectID string, req queryRequest) (preparedQuery, int, string, string) {
	if strings.TrimSpace(req.Query) == "" {
		return preparedQuery{}, http.StatusBadRequest, "missing_query", "query is required"
	}

	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		subjectID = "anonymous"
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	} else if _, err := uuid.Parse(conversationID); err != nil {
		return preparedQuery{}, http.StatusBadRequest, "invalid_conversation_id", "conversation_id must be a UUID"
	}

	if err := quota.EnsureAll(ctx, s.limiters, subjectID); err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			s.metrics.QuotaRejections.WithLabelValues(limiterNameFromErr(err, s.limiters)).Inc()
			return preparedQuery{}, http.StatusTooManyRequests, "quota_exceeded", err.Error()
		}
		return preparedQuery{}, http.StatusInternalServerError, "quota_check_failed", err.Error()
	}

	previous, err := s.store.Get(ctx, subjectID, conversationID)
	if err != nil {
		s.metrics.CacheOps.WithLabelValues("get", "error").Inc()
		return preparedQuery{}, http.StatusInternalServerError, "cache_error", err.Error()
	}
	s.metrics.CacheOps.WithLabelValues("get", "ok").Inc()

	loggedQuery, redacted := policy.RedactQuery(req.Query)
	s.log.Info("query accepted",
		zap.String("subject_id", subjectID),
		zap.String("conversation_id", conversationID),
		zap.String("query", loggedQuery),
		zap.Bool("redacted", redacted),
		zap.Int("history_turns", len(previous)),
	)

	provider := req.Provider
	if provider == "" {
		provider = s.cfg.DefaultProvider
	}
	model := req.Model
	if model == "" {
		model = s.cfg.OpenAIModel
	}

	sumReq := summarizer.Request{
		SubjectID:      subjectID,
		ConversationID: conversationID,
		Query:          req.Query,
		Provider:       provider,
		Model:          model,
		History:        previous,
	}

	// Topic summaries are generated once per conversation, before streaming
	// starts, and only when no prior history exists.
	topicSummary := ""
	if len(previous) == 0 {
		topicSummary, err = s.summarizer.TopicSummary(ctx, sumReq)
		if err != nil {
			s.log.Warn("topic summary generation failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
			topicSummary = ""
		}
	}

	var source <-chan summarizer.Item
	if s.validator.Valid(req.Query) {
		source = s.summarizer.Stream(ctx, sumReq)
	} else {
		source = invalidQuerySource()
	}

	attachments := make([]history.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, history.Attachment{
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}

	mediaType := stream.ParseMediaType(req.MediaType)
	if req.MediaType == "" {
		mediaType = stream.ParseMediaType(s.cfg.DefaultMediaType)
	}

	return preparedQuery{
		request: stream.Request{
			SubjectID:      subjectID,
			ConversationID: conversationID,
			Query:          req.Query,
			Attachments:    attachments,
			Provider:       provider,
			Model:          model,
			MediaType:      mediaType,
			TopicSummary:   topicSummary,
		},
		source:    source,
		mediaType: mediaType,
	}, 0, "", ""
}

// invalidQuerySource streams the canned rejection the same way a model
// answer would stream, with zero token counts so nothing is metered.
func invalidQuerySource() <-chan summarizer.Item {
	ch := make(chan summarizer.Item, 2)
	ch <- summarizer.Item{Fragment: invalidQueryResponse}
	ch <- summarizer.Item{Final: &summarizer.Result{}}
	close(ch)
	return ch
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(conversationID); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_conversation_id", "conversation id must be a UUID")
		return
	}
	subjectID := strings.TrimSpace(r.Header.Get(subjectHeader))
	if subjectID == "" {
		subjectID = "anonymous"
	}

	turns, err := s.store.Get(r.Context(), subjectID, conversationID)
	if err != nil {
		s.metrics.CacheOps.WithLabelValues("get", "error").Inc()
		respondError(w, http.StatusInternalServerError, "cache_error", err.Error())
		return
	}
	s.metrics.CacheOps.WithLabelValues("get", "ok").Inc()

	if turns == nil {
		turns = []history.Turn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"chat_history":    turns,
	})
}

func (s *Server) handleRevokeQuota(w http.ResponseWriter, r *http.Request) {
	s.adminQuotaOp(w, r, func(ctx context.Context, l quota.Limiter) error {
		return l.RevokeQuota(ctx)
	})
}

func (s *Server) handleIncreaseQuota(w http.ResponseWriter, r *http.Request) {
	s.adminQuotaOp(w, r, func(ctx context.Context, l quota.Limiter) error {
		return l.IncreaseQuota(ctx)
	})
}

func (s *Server) adminQuotaOp(w http.ResponseWriter, r *http.Request, op func(context.Context, quota.Limiter) error) {
	name := chi.URLParam(r, "name")
	for _, limiter := range s.limiters {
		if limiter.Name() != name {
			continue
		}
		if err := op(r.Context(), limiter); err != nil {
			respondError(w, http.StatusInternalServerError, "quota_op_failed", err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"limiter": name, "status": "ok"})
		return
	}
	respondError(w, http.StatusNotFound, "limiter_not_found", "no limiter named "+name)
}

// limiterNameFromErr recovers which limiter rejected the request for the
// rejection metric; falls back to "unknown".
func limiterNameFromErr(err error, limiters []quota.Limiter) string {
	msg := err.Error()
	for _, l := range limiters {
		if strings.Contains(msg, "limiter "+l.Name()) {
			return l.Name()
		}
	}
	return "unknown"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
