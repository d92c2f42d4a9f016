package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/beacon/internal/history"
	"github.com/antoniostano/beacon/internal/logging"
	"github.com/antoniostano/beacon/internal/observability"
	"github.com/antoniostano/beacon/internal/quota"
	"github.com/antoniostano/beacon/internal/reliability"
	"github.com/antoniostano/beacon/internal/summarizer"
)

// EmitFunc delivers one encoded wire frame to the client. A non-nil error
// means the client is gone and the stream must abort.
type EmitFunc func(frame string) error

// Request describes one streamed answer to produce.
type Request struct {
	SubjectID      string
	ConversationID string

	// Query is the question text with attachment payloads already stripped;
	// it is what gets persisted alongside the response.
	Query       string
	Attachments []history.Attachment

	Provider  string
	Model     string
	MediaType MediaType

	// TopicSummary is generated out of band for new conversations and rides
	// along into the persisted turn.
	TopicSummary string
}

// Pipeline turns a summarizer's lazy fragment sequence into a client-visible
// event stream, then persists the turn and meters quota.
type Pipeline struct {
	store    history.Store
	limiters []quota.Limiter
	metrics  *observability.Metrics
	log      *zap.Logger
}

func NewPipeline(store history.Store, limiters []quota.Limiter, metrics *observability.Metrics, log *zap.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		limiters: limiters,
		metrics:  metrics,
		log:      log,
	}
}

// Run drives one request through the stream state machine.
//
// Generation failures are converted into exactly one error frame and consume
// nothing: no turn is persisted and no quota is metered. A failed emit means
// the client disconnected; the stream aborts with the same bookkeeping as a
// generation failure, minus the undeliverable error frame. Failures while
// finalizing (cache write, quota metering) happen after every generated token
// was already delivered and propagate to the transport layer unshaped.
func (p *Pipeline) Run(ctx context.Context, req Request, source <-chan summarizer.Item, emit EmitFunc) error {
	started := time.Now()
	log := logging.ForStream(p.log, req.SubjectID, req.ConversationID)

	p.metrics.ActiveStreams.Inc()
	defer p.metrics.ActiveStreams.Dec()
	defer func() { p.metrics.ObserveResponseDuration(time.Since(started)) }()
	p.metrics.StreamEvents.WithLabelValues("started").Inc()

	if req.MediaType == MediaTypeJSON {
		if err := emit(Encode(StartEvent{ConversationID: req.ConversationID}, req.MediaType)); err != nil {
			p.metrics.StreamEvents.WithLabelValues("client_disconnected").Inc()
			return fmt.Errorf("emit start event: %w", err)
		}
	}

	var (
		response string
		final    *summarizer.Result
		idx      int
	)

streaming:
	for {
		select {
		case <-ctx.Done():
			p.metrics.StreamEvents.WithLabelValues("client_disconnected").Inc()
			log.Info("stream aborted by client", zap.Int("tokens_delivered", idx))
			return ctx.Err()
		case item, ok := <-source:
			if !ok {
				if ctx.Err() != nil {
					p.metrics.StreamEvents.WithLabelValues("client_disconnected").Inc()
					return ctx.Err()
				}
				err := errors.New("summarizer stream ended without a terminal result")
				p.failStream(req, log, err, emit)
				return nil
			}
			if item.Err != nil {
				if ctx.Err() != nil {
					// Disconnect races the summarizer's own cancellation
					// error; no error frame can reach the client.
					p.metrics.StreamEvents.WithLabelValues("client_disconnected").Inc()
					return ctx.Err()
				}
				p.failStream(req, log, item.Err, emit)
				return nil
			}
			if item.Final != nil {
				final = item.Final
				break streaming
			}

			response += item.Fragment
			if err := emit(Encode(TokenEvent{ID: idx, Token: item.Fragment}, req.MediaType)); err != nil {
				p.metrics.StreamEvents.WithLabelValues("client_disconnected").Inc()
				log.Info("client disconnected mid-stream", zap.Int("tokens_delivered", idx))
				return fmt.Errorf("emit token %d: %w", idx, err)
			}
			if idx == 0 {
				p.metrics.Stages.Observe(observability.StageFirstToken, time.Since(started))
			}
			idx++
		}
	}

	generated := time.Now()
	p.metrics.Stages.Observe(observability.StageGenerate, generated.Sub(started))

	turn := history.Turn{
		Query:        req.Query,
		Response:     response,
		RagChunks:    final.RagChunks,
		Attachments:  req.Attachments,
		Truncated:    final.Truncated,
		TopicSummary: req.TopicSummary,
		StartedAt:    started,
	}
	if err := p.store.InsertOrAppend(ctx, req.SubjectID, req.ConversationID, turn); err != nil {
		p.metrics.CacheOps.WithLabelValues("insert_or_append", "error").Inc()
		return fmt.Errorf("persist turn: %w", err)
	}
	p.metrics.CacheOps.WithLabelValues("insert_or_append", "ok").Inc()

	counter := final.TokenCounter
	if err := quota.ConsumeAll(ctx, p.limiters, counter.InputTokens, counter.OutputTokens, req.SubjectID); err != nil {
		return fmt.Errorf("meter quota: %w", err)
	}
	p.metrics.TokensSent.WithLabelValues(req.Provider, req.Model).Add(float64(counter.InputTokens))
	p.metrics.TokensReceived.WithLabelValues(req.Provider, req.Model).Add(float64(counter.OutputTokens))

	availableQuotas := quota.AvailableQuotas(ctx, p.limiters, req.SubjectID)

	end := EndEvent{
		ReferencedDocuments: BuildReferencedDocs(final.RagChunks),
		Truncated:           final.Truncated,
		InputTokens:         counter.InputTokens,
		OutputTokens:        counter.OutputTokens,
		AvailableQuotas:     availableQuotas,
	}
	if err := emit(Encode(end, req.MediaType)); err != nil {
		return fmt.Errorf("emit end event: %w", err)
	}

	p.metrics.StreamEvents.WithLabelValues("completed").Inc()
	p.metrics.Stages.Observe(observability.StageFinalize, time.Since(generated))
	p.metrics.Stages.Observe(observability.StageStreamTotal, time.Since(started))
	log.Info("stream completed",
		zap.Int("tokens_delivered", idx),
		zap.Int64("input_tokens", counter.InputTokens),
		zap.Int64("output_tokens", counter.OutputTokens),
		zap.Bool("truncated", final.Truncated),
		zap.Duration("generate_duration", generated.Sub(started)),
		zap.Duration("finalize_duration", time.Since(generated)),
		zap.Duration("total_duration", time.Since(started)),
	)
	return nil
}

// failStream classifies a generation failure and emits the single terminal
// error frame. Emit failures are ignored: the client may already be gone and
// there is nothing further to deliver.
func (p *Pipeline) failStream(req Request, log *zap.Logger, cause error, emit EmitFunc) {
	kind, summary, detail := reliability.ClassifyLLMError(cause)
	p.metrics.StreamFailures.WithLabelValues(string(kind)).Inc()
	p.metrics.Stages.ObserveIndicator(string(kind))
	log.Error("stream failed during generation",
		zap.String("kind", string(kind)),
		zap.Error(cause),
	)

	event := ErrorEvent{
		StatusCode: reliability.StatusCodeFor(kind),
		Response:   summary,
		Cause:      detail,
	}
	_ = emit(Encode(event, req.MediaType))
}
