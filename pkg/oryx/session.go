package oryx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/oryx/pkg/logger"
)

// ErrRequestPending is returned by Session.Start while the previous turn is
// still waiting for its message id.
var ErrRequestPending = errors.New("a request is still awaiting its message id")

const unknownStreamingError = "Unknown streaming error."

// ChatMessage is one entry of the conversation sent to the backend.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is what a Session hands to its Fetcher for each turn.
type ChatRequest struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	Messages       []ChatMessage  `json:"messages"`
	Extras         map[string]any `json:"-"`
}

// Handlers are the transport callbacks a Fetcher drives. OnMessage is called
// once per SSE event in arrival order, OnClose once on graceful end, and
// OnError on transport failure.
type Handlers struct {
	OnOpen    func(*http.Response)
	OnMessage func(SSEMessage)
	OnError   func(error)
	OnClose   func()
}

// Fetcher opens one streaming chat request and blocks until it ends.
// Cancelling ctx must abort the stream.
type Fetcher interface {
	Fetch(ctx context.Context, req ChatRequest, h Handlers) error
}

// FetcherFunc adapts a function to a Fetcher.
type FetcherFunc func(ctx context.Context, req ChatRequest, h Handlers) error

func (f FetcherFunc) Fetch(ctx context.Context, req ChatRequest, h Handlers) error {
	return f(ctx, req, h)
}

// Session owns the state of one conversation and the single in-flight
// transport request. Start, Stop and Dispatch are safe for concurrent use;
// States may be read at any time.
type Session struct {
	fetcher  Fetcher
	decoder  *Decoder
	mapper   *Mapper
	reducer  *Reducer
	logger   *slog.Logger
	extras   map[string]any
	onChange []func(*States)

	states atomic.Pointer[States]

	// mu serializes dispatch and guards the fields below.
	mu             sync.Mutex
	cancel         context.CancelFunc
	generation     uint64
	conversationID string

	wg sync.WaitGroup
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	logger         *slog.Logger
	extras         map[string]any
	conversationID string
	reducerOpts    []ReducerOption
	onChange       []func(*States)
}

// WithLogger sets the logger shared by the decoder, mapper and reducer.
func WithLogger(l *slog.Logger) SessionOption {
	return func(c *sessionConfig) {
		c.logger = l
	}
}

// WithExtras attaches host-provided values to every ChatRequest.
func WithExtras(extras map[string]any) SessionOption {
	return func(c *sessionConfig) {
		c.extras = extras
	}
}

// WithConversationID continues an existing conversation.
func WithConversationID(id string) SessionOption {
	return func(c *sessionConfig) {
		c.conversationID = id
	}
}

// WithSessionClock sets the clock used to timestamp tool, thinking and
// workflow items.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(c *sessionConfig) {
		c.reducerOpts = append(c.reducerOpts, WithClock(now))
	}
}

// OnChange registers fn to receive every new snapshot. fn runs while the
// session holds its dispatch lock and must not call Start, Stop or Dispatch.
func OnChange(fn func(*States)) SessionOption {
	return func(c *sessionConfig) {
		c.onChange = append(c.onChange, fn)
	}
}

// NewSession creates a Session that streams turns through f.
func NewSession(f Fetcher, opts ...SessionOption) *Session {
	cfg := &sessionConfig{logger: logger.Nop()}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Session{
		fetcher:        f,
		decoder:        NewDecoder(cfg.logger),
		mapper:         NewMapper(cfg.logger),
		reducer:        NewReducer(append([]ReducerOption{WithReducerLogger(cfg.logger)}, cfg.reducerOpts...)...),
		logger:         cfg.logger,
		extras:         cfg.extras,
		onChange:       cfg.onChange,
		conversationID: cfg.conversationID,
	}
	s.states.Store(NewStates())
	return s
}

// States returns the current snapshot.
func (s *Session) States() *States {
	return s.states.Load()
}

// ConversationID returns the conversation id the next turn will continue.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Start opens a new turn for prompt and streams it in the background. Any
// previous transport request is cancelled first. It returns
// ErrRequestPending without changing state when the previous turn has not
// received its message id yet.
func (s *Session) Start(ctx context.Context, prompt string) error {
	s.mu.Lock()

	if pending, ok := s.States().Pending(); ok && pending.IsStreaming {
		s.mu.Unlock()
		s.logger.Warn("cannot start a new request while awaiting metadata from a previous request")
		return ErrRequestPending
	}

	if s.cancel != nil {
		s.cancel()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.generation++

	st := &stream{
		session:    s,
		ctx:        streamCtx,
		generation: s.generation,
		tracker:    newMessageTracker(),
	}
	req := ChatRequest{
		ConversationID: s.conversationID,
		Messages:       []ChatMessage{{Role: RoleUser, Content: prompt}},
		Extras:         s.extras,
	}

	s.dispatchLocked(RequestStarted{Prompt: prompt})
	s.wg.Add(1)
	s.mu.Unlock()

	go st.run(req)
	return nil
}

// Stop cancels the in-flight request and marks every streaming turn stopped.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.dispatchLocked(StopAllRequests{})
}

// Dispatch applies a to the session state.
func (s *Session) Dispatch(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchLocked(a)
}

// Wait blocks until every stream started by this session has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) dispatchLocked(a Action) {
	prev := s.states.Load()
	next := s.reducer.Reduce(prev, a)
	if next == prev {
		return
	}
	s.states.Store(next)
	for _, fn := range s.onChange {
		fn(next)
	}
}

// clearCancelLocked drops the cancel handle if it still belongs to generation.
func (s *Session) clearCancelLocked(generation uint64) {
	if s.generation == generation && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

type trackerPhase int

const (
	phasePending trackerPhase = iota
	phaseResolved
)

// messageTracker attributes the events of one stream to a turn. It starts on
// the pending placeholder and moves to the backend id once metadata arrives.
type messageTracker struct {
	phase trackerPhase
	id    string
}

func newMessageTracker() *messageTracker {
	return &messageTracker{phase: phasePending, id: PendingMessageID}
}

func (t *messageTracker) observe(a Action) {
	md, ok := a.(MetadataReceived)
	if !ok || md.MessageID == "" || t.phase == phaseResolved {
		return
	}
	t.phase = phaseResolved
	t.id = md.MessageID
}

func (t *messageTracker) current() string {
	return t.id
}

// stream is the per-request bridge between transport callbacks and the
// session reducer.
type stream struct {
	session    *Session
	ctx        context.Context
	generation uint64
	tracker    *messageTracker
	terminated bool
}

func (st *stream) run(req ChatRequest) {
	s := st.session
	defer s.wg.Done()

	err := s.fetcher.Fetch(st.ctx, req, Handlers{
		OnOpen:    st.onOpen,
		OnMessage: st.onMessage,
		OnError:   st.onError,
		OnClose:   st.onClose,
	})
	if err != nil {
		st.onError(err)
	}
}

func (st *stream) onOpen(resp *http.Response) {
	if resp == nil {
		return
	}
	st.session.logger.Debug("stream opened", "status", resp.StatusCode)
}

func (st *stream) onMessage(msg SSEMessage) {
	s := st.session
	ev := s.decoder.Decode(msg)
	if ev == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st.stale() {
		return
	}

	var a Action
	if ev.Type == EventError {
		a = s.mapper.MapErrorEvent(ev.Payload, st.tracker.current())
	} else {
		a = s.mapper.MapEvent(ev.Type, ev.Payload, st.tracker.current())
	}
	if a == nil {
		return
	}

	if md, ok := a.(MetadataReceived); ok {
		// Metadata only resolves this stream's own placeholder. Once resolved,
		// or once a newer stream owns the placeholder, it is dropped.
		if st.tracker.phase == phaseResolved || st.generation != s.generation {
			s.logger.Warn("ignoring metadata for a resolved stream",
				"message_id", st.tracker.current(),
				"received_message_id", md.MessageID,
			)
			return
		}
		if md.ConversationID != "" {
			s.conversationID = md.ConversationID
		}
	}
	st.tracker.observe(a)
	s.dispatchLocked(a)
}

func (st *stream) onError(err error) {
	s := st.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.terminated {
		return
	}
	st.terminated = true
	ctxErr := st.ctx.Err()
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded)
	cancelled := !timedOut && (errors.Is(err, context.Canceled) || ctxErr != nil)
	s.clearCancelLocked(st.generation)
	if st.stale() {
		return
	}

	id := st.tracker.current()
	if cancelled {
		s.logger.Debug("stream cancelled", "message_id", id)
		s.dispatchLocked(RequestStopped{MessageID: id})
		return
	}

	msg := unknownStreamingError
	switch {
	case err != nil && err.Error() != "":
		msg = err.Error()
	case timedOut:
		msg = ctxErr.Error()
	}
	s.logger.Error("stream failed", "message_id", id, "error", err)
	s.dispatchLocked(RequestFailed{MessageID: id, Error: StreamingError{Message: msg}})
}

func (st *stream) onClose() {
	s := st.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.terminated {
		return
	}
	st.terminated = true
	s.clearCancelLocked(st.generation)
	if st.stale() {
		return
	}
	s.dispatchLocked(RequestStopped{MessageID: st.tracker.current()})
}

// stale reports whether a newer stream now owns the pending placeholder that
// this stream would otherwise write to.
func (st *stream) stale() bool {
	return st.tracker.phase == phasePending && st.generation != st.session.generation
}
