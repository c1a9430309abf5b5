// Package completion runs chat turns end to end: it validates the request,
// reserves credits, streams the provider's output to the caller while
// accumulating it, persists the result and settles the reservation.
//
// Whatever happens to a request, its reservation is settled exactly once:
// released when nothing was delivered or nothing could be stored, reconciled
// against the delivered output otherwise.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/server/catalog"
	"github.com/dmitrijs2005/llmgate/internal/server/events"
	"github.com/dmitrijs2005/llmgate/internal/server/ledger"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/dmitrijs2005/llmgate/internal/server/provider"
	"github.com/dmitrijs2005/llmgate/internal/server/tokenizer"
	"github.com/google/uuid"
)

const (
	DefaultDispatchTimeout = 30 * time.Second
	DefaultHistoryLimit    = 20

	snippetRunes = 80
)

var errDispatchTimeout = errors.New("no output before dispatch timeout")

// Ledger is the part of the credit ledger the orchestrator needs.
type Ledger interface {
	Reserve(ctx context.Context, scope models.Scope, estimatedTokens int, price models.Price) (*ledger.Reservation, error)
	Reconcile(ctx context.Context, r *ledger.Reservation, actualTokens int)
	Release(ctx context.Context, r *ledger.Reservation)
}

// Providers resolves a provider by name.
type Providers interface {
	Get(name string) (provider.Provider, error)
}

// Sink receives the output of a request. Open is called once the provider
// accepted the request and before the first Send. An error from either means
// the caller is gone.
type Sink interface {
	Open(ctx context.Context, requestID string) error
	Send(ctx context.Context, text string) error
}

type Request struct {
	// RequestID is optional; a new id is generated when empty.
	RequestID      string
	UserID         string
	ConversationID string
	SystemPrompt   string
	Prompt         string
	Model          models.ModelSpec
	Scope          models.Scope
}

type Outcome struct {
	RequestID      string
	Status         Status
	FinalMessageID string
	TokensCharged  int
	Err            error
	PartialOutput  string
}

type Options struct {
	DispatchTimeout time.Duration
	HistoryLimit    int
}

type Orchestrator struct {
	catalog   *catalog.Catalog
	providers Providers
	ledger    Ledger
	store     Store
	events    events.Publisher
	log       logging.Logger
	opts      Options
	inflight  *inflight
	now       func() time.Time
}

func NewOrchestrator(cat *catalog.Catalog, providers Providers, l Ledger, store Store, pub events.Publisher, log logging.Logger, opts Options) *Orchestrator {
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = DefaultDispatchTimeout
	}
	if opts.HistoryLimit < 0 {
		opts.HistoryLimit = 0
	}
	return &Orchestrator{
		catalog:   cat,
		providers: providers,
		ledger:    l,
		store:     store,
		events:    pub,
		log:       log.With("module", "completion"),
		opts:      opts,
		inflight:  newInflight(),
		now:       time.Now,
	}
}

// Cancel stops the running request id of userID.
func (o *Orchestrator) Cancel(requestID, userID string) error {
	return o.inflight.cancel(requestID, userID)
}

// run holds the per-request state of Run.
type run struct {
	o       *Orchestrator
	req     Request
	out     Outcome
	sm      machine
	log     logging.Logger
	res     *ledger.Reservation
	started time.Time
}

func (r *run) move(ctx context.Context, next Status) {
	prev := r.sm.state
	if err := r.sm.to(next); err != nil {
		r.log.Error(ctx, "state machine violation", "error", err)
		r.sm.state = next
	}
	r.log.Debug(ctx, "state", "from", prev, "to", next)
}

// finish ends the request in a terminal state.
func (r *run) finish(ctx context.Context, status Status, err error) Outcome {
	r.move(ctx, status)
	r.out.Status = status
	r.out.Err = err
	args := []any{"status", status, "tokens", r.out.TokensCharged, "elapsed", time.Since(r.started)}
	if err != nil {
		args = append(args, "error", err)
	}
	r.log.Info(ctx, "completion finished", args...)
	return r.out
}

func (r *run) release(ctx context.Context) {
	if r.res != nil {
		r.o.ledger.Release(ctx, r.res)
	}
}

// Run executes req, streaming output into sink. It blocks until the request
// reaches a terminal state and never leaves a reservation unsettled.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) Outcome {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	r := &run{
		o:       o,
		req:     req,
		out:     Outcome{RequestID: req.RequestID},
		sm:      machine{state: StatusPending},
		log:     o.log.With("request_id", req.RequestID, "user_id", req.UserID),
		started: o.now(),
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if err := o.inflight.add(req.RequestID, req.UserID, cancel); err != nil {
		return r.finish(ctx, StatusRejected, err)
	}
	defer o.inflight.remove(req.RequestID)

	return r.execute(ctx, sink)
}

func cancelled(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), common.ErrCancelled)
}

func (r *run) execute(ctx context.Context, sink Sink) Outcome {
	o, req := r.o, r.req

	if strings.TrimSpace(req.Prompt) == "" {
		return r.finish(ctx, StatusRejected, fmt.Errorf("%w: prompt is empty", common.ErrValidation))
	}
	if !req.Scope.Kind.Valid() || req.Scope.ID == "" {
		return r.finish(ctx, StatusRejected, fmt.Errorf("%w: no billing scope", common.ErrValidation))
	}
	model, err := o.catalog.Validate(req.Model)
	if err != nil {
		return r.finish(ctx, StatusRejected, err)
	}
	p, err := o.providers.Get(model.Provider)
	if err != nil {
		return r.finish(ctx, StatusFailed, err)
	}

	conv, history, err := o.store.LoadConversation(ctx, req.ConversationID, req.UserID, o.opts.HistoryLimit)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return r.finish(ctx, StatusRejected, fmt.Errorf("conversation %s: %w", req.ConversationID, err))
		}
		return r.finish(ctx, StatusFailed, err)
	}

	msgs := buildMessages(req.SystemPrompt, history, req.Prompt)
	promptTokens := tokenizer.EstimateMessages(msgs)
	estimated := promptTokens + model.OutputAllowance(req.Model.Params)

	r.res, err = o.ledger.Reserve(ctx, req.Scope, estimated, model.Price)
	if err != nil {
		if errors.Is(err, common.ErrInsufficientCredits) || errors.Is(err, common.ErrValidation) {
			return r.finish(ctx, StatusRejected, err)
		}
		return r.finish(ctx, StatusFailed, err)
	}
	if cancelled(ctx) {
		r.release(ctx)
		return r.finish(ctx, StatusCancelled, common.ErrCancelled)
	}
	r.move(ctx, StatusDispatching)

	dctx, stopDispatch := context.WithCancelCause(ctx)
	defer stopDispatch(nil)
	timer := time.AfterFunc(o.opts.DispatchTimeout, func() { stopDispatch(errDispatchTimeout) })
	defer timer.Stop()

	chunks, err := p.Stream(dctx, provider.Request{
		Model:    model.ID,
		Image:    model.Kind == catalog.KindImage,
		Messages: toProviderMessages(msgs),
		Params:   req.Model.Params,
	})
	if err != nil {
		r.release(ctx)
		switch {
		case cancelled(ctx):
			return r.finish(ctx, StatusCancelled, common.ErrCancelled)
		case errors.Is(context.Cause(dctx), errDispatchTimeout):
			return r.finish(ctx, StatusFailed, fmt.Errorf("%w: %w", common.ErrProviderUnavailable, errDispatchTimeout))
		case errors.Is(err, common.ErrValidation):
			return r.finish(ctx, StatusFailed, err)
		default:
			return r.finish(ctx, StatusFailed, fmt.Errorf("%w: %w", common.ErrProviderUnavailable, err))
		}
	}
	r.move(ctx, StatusStreaming)

	if err := sink.Open(ctx, req.RequestID); err != nil {
		stopDispatch(err)
		drain(chunks)
		r.release(ctx)
		r.log.Info(ctx, "caller left before streaming", "error", err)
		return r.finish(ctx, StatusCancelled, common.ErrCancelled)
	}

	s := r.stream(ctx, dctx, timer, chunks, sink)
	stopDispatch(nil)
	drain(chunks)

	return r.settle(ctx, conv, promptTokens, s)
}

// streamResult describes how the stream loop ended.
type streamResult struct {
	text        string
	tokens      int
	delivered   int
	providerErr error
	disconnect  error
	cancelled   bool
}

// stream forwards chunks to sink until the provider finishes, fails, the
// caller goes away or the request is cancelled. A chunk is appended only
// after the sink accepted it.
func (r *run) stream(ctx, dctx context.Context, timer *time.Timer, chunks <-chan provider.Chunk, sink Sink) streamResult {
	var res streamResult
	var out strings.Builder
	var counter tokenizer.Counter
	defer func() {
		res.text = out.String()
		res.tokens = counter.Tokens()
	}()

	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				if cause := context.Cause(dctx); errors.Is(cause, errDispatchTimeout) && ctx.Err() == nil {
					res.providerErr = fmt.Errorf("%w: %w", common.ErrProviderUnavailable, cause)
				} else if ctx.Err() != nil {
					r.classifyDone(ctx, &res)
				}
				return res
			}
			if ctx.Err() != nil {
				r.classifyDone(ctx, &res)
				return res
			}
			if c.Err != nil {
				res.providerErr = c.Err
				if !errors.Is(c.Err, common.ErrProviderUnavailable) {
					res.providerErr = fmt.Errorf("%w: %w", common.ErrProviderUnavailable, c.Err)
				}
				return res
			}
			if res.delivered == 0 {
				timer.Stop()
			}
			if err := sink.Send(ctx, c.Text); err != nil {
				res.disconnect = err
				return res
			}
			out.WriteString(c.Text)
			counter.Add(c.Text)
			res.delivered++
		case <-ctx.Done():
			r.classifyDone(ctx, &res)
			return res
		}
	}
}

func (r *run) classifyDone(ctx context.Context, res *streamResult) {
	if cancelled(ctx) {
		res.cancelled = true
		return
	}
	res.disconnect = context.Cause(ctx)
}

// settle persists what was delivered and settles the reservation.
func (r *run) settle(ctx context.Context, conv *models.Conversation, promptTokens int, s streamResult) Outcome {
	if s.delivered == 0 {
		r.release(ctx)
		switch {
		case s.cancelled:
			return r.finish(ctx, StatusCancelled, common.ErrCancelled)
		case s.disconnect != nil:
			r.log.Info(ctx, "caller left before first chunk", "error", s.disconnect)
			return r.finish(ctx, StatusCancelled, common.ErrCancelled)
		case s.providerErr != nil:
			return r.finish(ctx, StatusFailed, s.providerErr)
		}
	}

	final := StatusCompleted
	var finalErr error
	switch {
	case s.cancelled:
		final, finalErr = StatusCancelled, common.ErrCancelled
	case s.providerErr != nil:
		final, finalErr = StatusPartiallyCompleted, s.providerErr
	case s.disconnect != nil:
		final = StatusPartiallyCompleted
		r.log.Info(ctx, "caller disconnected mid-stream", "delivered_chunks", s.delivered, "error", s.disconnect)
	}
	r.move(ctx, StatusFinalizing)
	if final != StatusCompleted {
		r.out.PartialOutput = s.text
	}

	// The caller may be gone; finalization must still run.
	pctx := context.WithoutCancel(ctx)
	at := r.o.now()
	promptMsg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        r.req.Prompt,
		Tokens:         tokenizer.EstimateTokens(r.req.Prompt),
		CreatedAt:      at,
	}
	reply := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        s.text,
		Partial:        final != StatusCompleted,
		Tokens:         s.tokens,
		CreatedAt:      at.Add(time.Microsecond),
	}
	if err := r.o.store.SaveTurn(pctx, Turn{ConversationID: conv.ID, Prompt: promptMsg, Reply: reply, At: at}); err != nil {
		r.release(pctx)
		r.out.PartialOutput = s.text
		return r.finish(ctx, StatusFailed, err)
	}

	actual := promptTokens + s.tokens
	r.o.ledger.Reconcile(pctx, r.res, actual)
	r.out.TokensCharged = actual
	r.out.FinalMessageID = reply.ID

	r.o.events.Publish(pctx, events.ConversationUpdated{
		ID:             conv.ID,
		UserID:         conv.UserID,
		LastActivityAt: at,
		TitleSnippet:   titleSnippet(conv.Title, r.req.Prompt),
	})
	return r.finish(ctx, final, finalErr)
}

func buildMessages(system string, history []models.Message, prompt string) []models.Message {
	msgs := make([]models.Message, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: system})
	}
	msgs = append(msgs, history...)
	return append(msgs, models.Message{Role: models.RoleUser, Content: prompt})
}

func toProviderMessages(msgs []models.Message) []provider.Message {
	out := make([]provider.Message, len(msgs))
	for i, m := range msgs {
		out[i] = provider.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func titleSnippet(title, prompt string) string {
	s := title
	if s == "" {
		s = strings.Join(strings.Fields(prompt), " ")
	}
	if utf8.RuneCountInString(s) <= snippetRunes {
		return s
	}
	return string([]rune(s)[:snippetRunes]) + "…"
}

// drain consumes what is left on chunks so the producer can exit. The
// producer's context must already be cancelled.
func drain(chunks <-chan provider.Chunk) {
	for range chunks {
	}
}
