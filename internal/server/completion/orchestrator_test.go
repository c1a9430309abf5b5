package completion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/server/catalog"
	"github.com/dmitrijs2005/llmgate/internal/server/events"
	"github.com/dmitrijs2005/llmgate/internal/server/ledger"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/dmitrijs2005/llmgate/internal/server/provider"
	"github.com/dmitrijs2005/llmgate/internal/server/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prompt = "What is the capital of France?"

// fakeProvider plays back scripted chunks. It honours the Provider contract:
// the channel is closed once the script ends or ctx is cancelled.
type fakeProvider struct {
	chunks    []string
	err       error
	rejectErr error
	hang      bool
	// buffered hands out a channel that already holds every chunk.
	buffered bool

	calls    atomic.Int32
	started  chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeProvider(chunks ...string) *fakeProvider {
	return &fakeProvider{chunks: chunks, started: make(chan struct{}), done: make(chan struct{})}
}

func (f *fakeProvider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	if f.calls.Add(1) == 1 {
		close(f.started)
	}
	if f.rejectErr != nil {
		f.finish()
		return nil, f.rejectErr
	}
	if f.buffered {
		ch := make(chan provider.Chunk, len(f.chunks))
		for _, c := range f.chunks {
			ch <- provider.Chunk{Text: c}
		}
		close(ch)
		f.finish()
		return ch, nil
	}
	ch := make(chan provider.Chunk)
	go func() {
		defer func() {
			close(ch)
			f.finish()
		}()
		for _, c := range f.chunks {
			select {
			case ch <- provider.Chunk{Text: c}:
			case <-ctx.Done():
				return
			}
		}
		if f.err != nil {
			select {
			case ch <- provider.Chunk{Err: f.err}:
			case <-ctx.Done():
			}
			return
		}
		if f.hang {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (f *fakeProvider) finish() {
	f.doneOnce.Do(func() { close(f.done) })
}

// recordingSink collects delivered chunks. failAt makes the n-th Send fail
// as if the caller had disconnected.
type recordingSink struct {
	mu      sync.Mutex
	opened  string
	sent    []string
	failAt  int
	openErr error
	onSend  func(n int)
}

func (s *recordingSink) Open(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opened = requestID
	return nil
}

func (s *recordingSink) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	n := len(s.sent) + 1
	if s.failAt > 0 && n >= s.failAt {
		s.mu.Unlock()
		return errors.New("broken pipe")
	}
	s.sent = append(s.sent, text)
	onSend := s.onSend
	s.mu.Unlock()
	if onSend != nil {
		onSend(n)
	}
	return nil
}

func (s *recordingSink) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type memStore struct {
	mu      sync.Mutex
	convs   map[string]*models.Conversation
	history []models.Message
	turns   []Turn
	loadErr error
	saveErr error
}

func (m *memStore) LoadConversation(ctx context.Context, conversationID, userID string, limit int) (*models.Conversation, []models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, nil, m.loadErr
	}
	c, ok := m.convs[conversationID]
	if !ok || c.UserID != userID {
		return nil, nil, common.ErrorNotFound
	}
	return c, m.history, nil
}

func (m *memStore) SaveTurn(ctx context.Context, t Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.turns = append(m.turns, t)
	return nil
}

func (m *memStore) saved() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Turn(nil), m.turns...)
}

type harness struct {
	orch     *Orchestrator
	provider *fakeProvider
	ledger   *ledger.Ledger
	store    *memStore
	bus      *events.Bus
	user     models.Scope
}

// onePerToken makes n tokens cost exactly n credits.
var onePerToken = models.Price{PerThousandTokens: 1000}

func newHarness(t *testing.T, p *fakeProvider, balance models.Credits, opts Options) *harness {
	t.Helper()
	cat := catalog.New(catalog.Model{
		ID: "m", Provider: "fake", Name: "Fake", Kind: catalog.KindChat, Price: onePerToken,
		MaxOutputTokens: 100, DefaultOutputTokens: 10, Temperature: catalog.Range{Min: 0, Max: 1},
	})
	reg := provider.NewRegistry()
	reg.Register("fake", p)

	l := ledger.New(ledger.NewMemoryStore(), logging.Nop{})
	user := models.UserScope("u-1")
	if balance > 0 {
		_, err := l.Credit(context.Background(), user, balance, "test")
		require.NoError(t, err)
	}
	store := &memStore{convs: map[string]*models.Conversation{
		"c-1": {ID: "c-1", UserID: "u-1", Title: "Geography"},
	}}
	bus := events.NewBus(logging.Nop{})

	return &harness{
		orch:     NewOrchestrator(cat, reg, l, store, bus, logging.Nop{}, opts),
		provider: p,
		ledger:   l,
		store:    store,
		bus:      bus,
		user:     user,
	}
}

func (h *harness) balance(t *testing.T) models.Credits {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), h.user)
	require.NoError(t, err)
	return b
}

func (h *harness) request() Request {
	return Request{
		UserID:         "u-1",
		ConversationID: "c-1",
		Prompt:         prompt,
		Model:          models.ModelSpec{Provider: "fake", Model: "m"},
		Scope:          h.user,
	}
}

// promptCost is the prompt estimate the ledger is charged for.
var promptCost = tokenizer.EstimateMessages([]models.Message{{Role: models.RoleUser, Content: prompt}})

func TestRun_Completed(t *testing.T) {
	h := newHarness(t, newFakeProvider("Paris", " is", " the", " capital."), 1000, Options{})
	updates, unsub := h.bus.Subscribe(1)
	defer unsub()
	sink := &recordingSink{}

	out := h.orch.Run(context.Background(), h.request(), sink)

	require.NoError(t, out.Err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, out.RequestID, sink.opened)
	assert.Equal(t, []string{"Paris", " is", " the", " capital."}, sink.delivered())
	assert.Empty(t, out.PartialOutput)

	turns := h.store.saved()
	require.Len(t, turns, 1)
	assert.Equal(t, prompt, turns[0].Prompt.Content)
	assert.Equal(t, "Paris is the capital.", turns[0].Reply.Content)
	assert.False(t, turns[0].Reply.Partial)
	assert.Equal(t, out.FinalMessageID, turns[0].Reply.ID)

	wantTokens := promptCost + tokenizer.EstimateTokens("Paris is the capital.")
	assert.Equal(t, wantTokens, out.TokensCharged)
	assert.Equal(t, models.Credits(1000-wantTokens), h.balance(t))

	ev := <-updates
	assert.Equal(t, "c-1", ev.ID)
	assert.Equal(t, "u-1", ev.UserID)
	assert.Equal(t, "Geography", ev.TitleSnippet)
	assert.Equal(t, turns[0].At, ev.LastActivityAt)
	assert.Zero(t, h.orch.inflight.len())
}

func TestRun_MidStreamErrorPersistsPartial(t *testing.T) {
	p := newFakeProvider("Par", "is")
	p.err = errors.New("upstream reset")
	h := newHarness(t, p, 1000, Options{})
	sink := &recordingSink{}

	out := h.orch.Run(context.Background(), h.request(), sink)

	assert.Equal(t, StatusPartiallyCompleted, out.Status)
	assert.ErrorIs(t, out.Err, common.ErrProviderUnavailable)
	assert.Equal(t, "Paris", out.PartialOutput)

	turns := h.store.saved()
	require.Len(t, turns, 1)
	assert.Equal(t, "Paris", turns[0].Reply.Content)
	assert.True(t, turns[0].Reply.Partial)

	wantTokens := promptCost + tokenizer.EstimateTokens("Paris")
	assert.Equal(t, wantTokens, out.TokensCharged)
	assert.Equal(t, models.Credits(1000-wantTokens), h.balance(t))
}

func TestRun_DisconnectAfterTwoOfFiveChunks(t *testing.T) {
	p := newFakeProvider("a", "b", "c", "d", "e")
	h := newHarness(t, p, 1000, Options{})
	sink := &recordingSink{failAt: 3}

	out := h.orch.Run(context.Background(), h.request(), sink)

	assert.Equal(t, StatusPartiallyCompleted, out.Status)
	assert.Equal(t, []string{"a", "b"}, sink.delivered())

	turns := h.store.saved()
	require.Len(t, turns, 1)
	assert.Equal(t, "ab", turns[0].Reply.Content)
	assert.True(t, turns[0].Reply.Partial)

	wantTokens := promptCost + tokenizer.EstimateTokens("ab")
	assert.Equal(t, models.Credits(1000-wantTokens), h.balance(t))

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("provider goroutine still running after disconnect")
	}
}

func TestRun_CallerContextCancelledMidStream(t *testing.T) {
	p := newFakeProvider("a")
	p.hang = true
	h := newHarness(t, p, 1000, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{onSend: func(int) { cancel() }}

	out := h.orch.Run(ctx, h.request(), sink)

	assert.Equal(t, StatusPartiallyCompleted, out.Status)
	turns := h.store.saved()
	require.Len(t, turns, 1)
	assert.Equal(t, "a", turns[0].Reply.Content)
	assert.Equal(t, models.Credits(1000-(promptCost+1)), h.balance(t))
}

func TestRun_ReadyChunksAfterDisconnectAreDropped(t *testing.T) {
	for i := 0; i < 50; i++ {
		p := newFakeProvider("a", "b", "c", "d", "e")
		p.buffered = true
		h := newHarness(t, p, 1000, Options{})

		ctx, cancel := context.WithCancel(context.Background())
		sink := &recordingSink{onSend: func(n int) {
			if n == 2 {
				cancel()
			}
		}}

		out := h.orch.Run(ctx, h.request(), sink)

		require.Equal(t, StatusPartiallyCompleted, out.Status)
		require.Equal(t, []string{"a", "b"}, sink.delivered())
		turns := h.store.saved()
		require.Len(t, turns, 1)
		require.Equal(t, "ab", turns[0].Reply.Content)
	}
}

func TestRun_InsufficientCredits(t *testing.T) {
	p := newFakeProvider("never")
	h := newHarness(t, p, 10, Options{})

	out := h.orch.Run(context.Background(), h.request(), &recordingSink{})

	assert.Equal(t, StatusRejected, out.Status)
	assert.ErrorIs(t, out.Err, common.ErrInsufficientCredits)
	assert.Equal(t, models.Credits(10), h.balance(t))
	assert.Zero(t, p.calls.Load())
	assert.Empty(t, h.store.saved())
}

func TestRun_ValidationErrorDoesNotTouchLedger(t *testing.T) {
	p := newFakeProvider("never")
	h := newHarness(t, p, 100, Options{})
	req := h.request()
	temp := 1.5
	req.Model.Params.Temperature = &temp

	out := h.orch.Run(context.Background(), req, &recordingSink{})

	assert.Equal(t, StatusRejected, out.Status)
	assert.ErrorIs(t, out.Err, common.ErrValidation)
	entries, err := h.ledger.History(context.Background(), h.user, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the initial top-up")
	assert.Zero(t, p.calls.Load())
}

func TestRun_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr error
	}{
		{"empty prompt", func(r *Request) { r.Prompt = "  " }, common.ErrValidation},
		{"no scope", func(r *Request) { r.Scope = models.Scope{} }, common.ErrValidation},
		{"unknown model", func(r *Request) { r.Model.Model = "nope" }, common.ErrValidation},
		{"unknown conversation", func(r *Request) { r.ConversationID = "c-404" }, common.ErrorNotFound},
		{"foreign conversation", func(r *Request) { r.UserID = "u-2" }, common.ErrorNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newFakeProvider("x"), 100, Options{})
			req := h.request()
			tt.mutate(&req)

			out := h.orch.Run(context.Background(), req, &recordingSink{})
			assert.Equal(t, StatusRejected, out.Status)
			assert.ErrorIs(t, out.Err, tt.wantErr)
			assert.Equal(t, models.Credits(100), h.balance(t))
		})
	}
}

func TestRun_HistoryLoadFailure(t *testing.T) {
	h := newHarness(t, newFakeProvider("x"), 100, Options{})
	h.store.loadErr = errors.Join(common.ErrPersistenceUnavailable, errors.New("db down"))

	out := h.orch.Run(context.Background(), h.request(), &recordingSink{})
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, common.ErrPersistenceUnavailable)
	assert.Equal(t, models.Credits(100), h.balance(t))
}

func TestRun_ProviderRejectsReleasesReservation(t *testing.T) {
	p := newFakeProvider()
	p.rejectErr = errors.New("401 invalid key")
	h := newHarness(t, p, 100, Options{})

	out := h.orch.Run(context.Background(), h.request(), &recordingSink{})

	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, common.ErrProviderUnavailable)
	assert.Equal(t, models.Credits(100), h.balance(t))
}

func TestRun_FirstChunkTimeout(t *testing.T) {
	p := newFakeProvider()
	p.hang = true
	h := newHarness(t, p, 100, Options{DispatchTimeout: 50 * time.Millisecond})
	sink := &recordingSink{}

	out := h.orch.Run(context.Background(), h.request(), sink)

	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, common.ErrProviderUnavailable)
	assert.ErrorIs(t, out.Err, errDispatchTimeout)
	assert.Empty(t, sink.delivered())
	assert.Empty(t, h.store.saved())
	assert.Equal(t, models.Credits(100), h.balance(t))
}

func TestRun_ErrorBeforeFirstChunkFails(t *testing.T) {
	p := newFakeProvider()
	p.err = errors.New("model overloaded")
	h := newHarness(t, p, 100, Options{})

	out := h.orch.Run(context.Background(), h.request(), &recordingSink{})

	assert.Equal(t, StatusFailed, out.Status)
	assert.Empty(t, h.store.saved())
	assert.Equal(t, models.Credits(100), h.balance(t))
}

func TestRun_PersistFailureReleases(t *testing.T) {
	h := newHarness(t, newFakeProvider("Paris"), 100, Options{})
	h.store.saveErr = errors.Join(common.ErrPersistenceUnavailable, errors.New("disk full"))
	sink := &recordingSink{}

	out := h.orch.Run(context.Background(), h.request(), sink)

	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, common.ErrPersistenceUnavailable)
	assert.Equal(t, []string{"Paris"}, sink.delivered())
	assert.Equal(t, "Paris", out.PartialOutput)
	assert.Empty(t, out.FinalMessageID)
	assert.Equal(t, models.Credits(100), h.balance(t))
}

func TestRun_SinkOpenFailureReleases(t *testing.T) {
	h := newHarness(t, newFakeProvider("a", "b"), 100, Options{})
	sink := &recordingSink{openErr: errors.New("client gone")}

	out := h.orch.Run(context.Background(), h.request(), sink)

	assert.Equal(t, StatusCancelled, out.Status)
	assert.Empty(t, sink.delivered())
	assert.Empty(t, h.store.saved())
	assert.Equal(t, models.Credits(100), h.balance(t))
}

func TestCancel_MidStreamPersistsPartial(t *testing.T) {
	p := newFakeProvider("Par")
	p.hang = true
	h := newHarness(t, p, 1000, Options{})
	req := h.request()
	req.RequestID = "r-1"

	sink := &recordingSink{onSend: func(int) {
		assert.ErrorIs(t, h.orch.Cancel("r-1", "u-2"), common.ErrorNotFound)
		assert.NoError(t, h.orch.Cancel("r-1", "u-1"))
	}}
	out := h.orch.Run(context.Background(), req, sink)

	assert.Equal(t, StatusCancelled, out.Status)
	assert.ErrorIs(t, out.Err, common.ErrCancelled)
	turns := h.store.saved()
	require.Len(t, turns, 1)
	assert.Equal(t, "Par", turns[0].Reply.Content)
	assert.True(t, turns[0].Reply.Partial)
	assert.Equal(t, models.Credits(1000-(promptCost+tokenizer.EstimateTokens("Par"))), h.balance(t))
}

func TestCancel_BeforeFirstChunkReleases(t *testing.T) {
	p := newFakeProvider()
	p.hang = true
	h := newHarness(t, p, 100, Options{})
	req := h.request()
	req.RequestID = "r-2"

	go func() {
		<-p.started
		assert.NoError(t, h.orch.Cancel("r-2", "u-1"))
	}()
	out := h.orch.Run(context.Background(), req, &recordingSink{})

	assert.Equal(t, StatusCancelled, out.Status)
	assert.Empty(t, h.store.saved())
	assert.Equal(t, models.Credits(100), h.balance(t))
}

func TestCancel_UnknownRequest(t *testing.T) {
	h := newHarness(t, newFakeProvider(), 0, Options{})
	assert.ErrorIs(t, h.orch.Cancel("nope", "u-1"), common.ErrorNotFound)
}

func TestRun_DuplicateRequestID(t *testing.T) {
	p := newFakeProvider("a")
	p.hang = true
	h := newHarness(t, p, 1000, Options{})
	req := h.request()
	req.RequestID = "dup"

	first := make(chan Outcome, 1)
	sink := &recordingSink{}
	sink.onSend = func(int) {
		second := h.orch.Run(context.Background(), req, &recordingSink{})
		assert.Equal(t, StatusRejected, second.Status)
		assert.ErrorIs(t, second.Err, common.ErrValidation)
		assert.NoError(t, h.orch.Cancel("dup", "u-1"))
	}
	go func() { first <- h.orch.Run(context.Background(), req, sink) }()

	select {
	case out := <-first:
		assert.Equal(t, StatusCancelled, out.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("first request did not finish")
	}
}

func TestRun_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	p := newFakeProvider("ok")
	h := newHarness(t, p, 100, Options{})

	var wg sync.WaitGroup
	var completed, rejected atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := h.orch.Run(context.Background(), h.request(), &recordingSink{})
			switch out.Status {
			case StatusCompleted:
				completed.Add(1)
			case StatusRejected:
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), completed.Load()+rejected.Load())
	assert.GreaterOrEqual(t, h.balance(t), models.Credits(0))
}

func TestTitleSnippet(t *testing.T) {
	assert.Equal(t, "Title", titleSnippet("Title", "prompt"))
	assert.Equal(t, "a b", titleSnippet("", "  a \n b "))
	long := strings.Repeat("x", 200)
	assert.Equal(t, strings.Repeat("x", snippetRunes)+"…", titleSnippet("", long))
}

func TestMachine(t *testing.T) {
	m := machine{state: StatusPending}
	require.NoError(t, m.to(StatusDispatching))
	require.NoError(t, m.to(StatusStreaming))
	require.NoError(t, m.to(StatusFinalizing))
	require.NoError(t, m.to(StatusCompleted))
	assert.True(t, m.state.Terminal())
	assert.Error(t, m.to(StatusStreaming))

	m = machine{state: StatusPending}
	assert.Error(t, m.to(StatusCompleted))
}
