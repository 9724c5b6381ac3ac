package oryx_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/oryx/pkg/logger"
	"github.com/papercomputeco/oryx/pkg/oryx"
)

// scripted replays data lines then closes the stream.
func scripted(lines ...string) oryx.FetcherFunc {
	return func(_ context.Context, _ oryx.ChatRequest, h oryx.Handlers) error {
		for _, l := range lines {
			h.OnMessage(oryx.SSEMessage{Data: l})
		}
		h.OnClose()
		return nil
	}
}

// blocking holds the stream open until its context is cancelled.
type blocking struct {
	mu       sync.Mutex
	requests []oryx.ChatRequest
	started  chan struct{}
}

func newBlocking() *blocking {
	return &blocking{started: make(chan struct{}, 8)}
}

func (b *blocking) Fetch(ctx context.Context, req oryx.ChatRequest, h oryx.Handlers) error {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	b.started <- struct{}{}

	<-ctx.Done()
	return ctx.Err()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ = Describe("Session", func() {
	var logs *syncBuffer

	BeforeEach(func() {
		logs = &syncBuffer{}
	})

	newSession := func(f oryx.Fetcher, opts ...oryx.SessionOption) *oryx.Session {
		opts = append([]oryx.SessionOption{oryx.WithLogger(logger.New(logger.WithWriter(logs)))}, opts...)
		return oryx.NewSession(f, opts...)
	}

	It("streams a complete turn into state", func() {
		s := newSession(scripted(
			`{"event":"metadata","data":{"conversation_id":"c1","request_id":"r1","message_id":"m1"}}`,
			`{"event":"message_delta","data":{"delta":"Hel"}}`,
			`{"event":"message_delta","data":{"delta":"lo"}}`,
			`{"event":"message_complete","data":{"final_message":"Hello!"}}`,
			`{"event":"end"}`,
		))

		Expect(s.Start(context.Background(), "hi")).To(Succeed())
		s.Wait()

		Expect(s.States().IDs()).To(Equal([]string{"m1"}))
		st, _ := s.States().Get("m1")
		Expect(st.UserMessage.Content).To(Equal("hi"))
		Expect(st.AgentMessage).To(Equal(&oryx.AgentMessage{Content: "Hello!", IsCompleted: true}))
		Expect(st.IsStreaming).To(BeFalse())
		Expect(st.RequestID).To(Equal("r1"))
		Expect(st.ConversationID).To(Equal("c1"))
	})

	It("attributes early events to the placeholder and later ones to the message id", func() {
		s := newSession(scripted(
			`{"event":"stepping","data":{"type":"retrieval"}}`,
			`{"event":"metadata","data":{"conversation_id":"c1","request_id":"r1","message_id":"m1"}}`,
			`{"event":"message_delta","data":{"delta":"x"}}`,
		))

		Expect(s.Start(context.Background(), "hi")).To(Succeed())
		s.Wait()

		st, ok := s.States().Get("m1")
		Expect(ok).To(BeTrue())
		Expect(st.CurrentStage).To(Equal(oryx.StageRetrieval))
		Expect(st.AgentMessage.Content).To(Equal("x"))
	})

	It("records a tool call lifecycle", func() {
		s := newSession(scripted(
			`{"event":"metadata","data":{"conversation_id":"c1","request_id":"r1","message_id":"m1"}}`,
			`{"event":"tool_call_start","data":{"tool_id":"t1","tool_name":"search","tool_args":"{\"q\":\"x\"}"}}`,
			`{"event":"tool_call_end","data":{"tool_id":"t1","tool_output":"result","successful":true,"error":""}}`,
		))

		Expect(s.Start(context.Background(), "hi")).To(Succeed())
		s.Wait()

		st, _ := s.States().Get("m1")
		Expect(st.ToolCalls).To(HaveLen(1))
		tc := st.ToolCalls[0]
		Expect(tc.Status).To(Equal(oryx.ToolCallStatusCompleted))
		Expect(tc.Arguments).To(Equal(map[string]any{"q": "x"}))
		Expect(tc.Output).To(Equal("result"))
		Expect(tc.Error).To(BeEmpty())
	})

	It("surfaces server error events as failures", func() {
		s := newSession(scripted(
			`{"event":"metadata","data":{"conversation_id":"c1","request_id":"r1","message_id":"m1"}}`,
			`{"event":"error","data":{"status":500,"message":"agent crashed","error_code":"INTERNAL"}}`,
		))

		Expect(s.Start(context.Background(), "hi")).To(Succeed())
		s.Wait()

		st, _ := s.States().Get("m1")
		Expect(st.IsStreaming).To(BeFalse())
		Expect(st.Error).To(Equal(&oryx.StreamingError{Message: "agent crashed", Code: "INTERNAL"}))
		Expect(oryx.Status("m1", st)).To(Equal(oryx.TurnFailed))
	})

	It("does not dispatch for a malformed retrieval batch", func() {
		var snapshots []*oryx.States
		s := newSession(scripted(
			`{"event":"metadata","data":{"conversation_id":"c1","request_id":"r1","message_id":"m1"}}`,
			`{"event":"retrievals","data":{"contents":[{"number":"first"}]}}`,
			`{"event":"some_future_event","data":{}}`,
		), oryx.OnChange(func(next *oryx.States) { snapshots = append(snapshots, next) }))

		Expect(s.Start(context.Background(), "hi")).To(Succeed())
		s.Wait()

		// start, metadata, close
		Expect(snapshots).To(HaveLen(3))
		st, _ := s.States().Get("m1")
		Expect(st.Retrievals).To(BeEmpty())
	})

	It("fails the turn when the transport errors", func() {
		s := newSession(oryx.FetcherFunc(func(_ context.Context, _ oryx.ChatRequest, h oryx.Handlers) error {
			h.OnMessage(oryx.SSEMessage{Data: `{"event":"metadata","data":{"conversation_id":"c1","request_id":"r1","message_id":"m1"}}`})
			return errors.New("connection reset")
		}))

		Expect(s.Start(context.Background(), "hi")).To(Succeed())
		s.Wait()

		st, _ := s.States().Get("m1")
		Expect(st.IsStreaming).To(BeFalse())
		Expect(st.Error).To(Equal(&oryx.StreamingError{Message: "connection reset"}))
	})

	It("reports a transport error once even when the fetcher also calls OnError", func() {
		var failures int
		s := newSession(oryx.FetcherFunc(func(_ context.Context, _ oryx.ChatRequest, h oryx.Handlers) error {
			err := errors.New("refused")
			h.OnError(err)
			return err
		}), oryx.OnChange(func(next *oryx.States) {
			if st, ok := next.Pending(); ok && st.Error != nil {
				failures++
			}
		}))

		Expect(s.Start(context.Background(), "hi")).To(Succeed())
		s.Wait()
		Expect(failures).To(Equal(1))

		st, _ := s.States().Pending()
		Expect(st.Error.Message).To(Equal("refused"))
	})

	It("rejects a second start while the first awaits its message id", func() {
		f := newBlocking()
		s := newSession(f)

		Expect(s.Start(context.Background(), "first")).To(Succeed())
		Eventually(f.started).Should(Receive())

		Expect(s.Start(context.Background(), "second")).To(MatchError(oryx.ErrRequestPending))
		Expect(logs.String()).To(ContainSubstring("cannot start a new request"))
		Expect(s.States().Len()).To(Equal(1))
		st, _ := s.States().Pending()
		Expect(st.UserMessage.Content).To(Equal("first"))

		s.Stop()
		s.Wait()
	})

	It("allows a new start once the pending turn is stopped", func() {
		f := newBlocking()
		s := newSession(f)

		Expect(s.Start(context.Background(), "first")).To(Succeed())
		Eventually(f.started).Should(Receive())
		s.Stop()
		s.Wait()

		Expect(s.Start(context.Background(), "second")).To(Succeed())
		Eventually(f.started).Should(Receive())
		st, _ := s.States().Pending()
		Expect(st.UserMessage.Content).To(Equal("second"))
		Expect(s.States().Len()).To(Equal(1))

		s.Stop()
		s.Wait()
	})

	It("stops every streaming turn and cancels the transport", func() {
		f := newBlocking()
		s := newSession(f)

		Expect(s.Start(context.Background(), "hi")).To(Succeed())
		Eventually(f.started).Should(Receive())
		s.Dispatch(oryx.MetadataReceived{MessageID: "m1"})

		s.Stop()
		s.Wait()

		st, _ := s.States().Get("m1")
		Expect(st.IsStreaming).To(BeFalse())
		Expect(st.Error).To(BeNil())
	})

	It("leaves a displaced turn streaming until its transport ends", func() {
		release := make(chan struct{})
		first := true
		var mu sync.Mutex
		s := newSession(oryx.FetcherFunc(func(ctx context.Context, _ oryx.ChatRequest, h oryx.Handlers) error {
			mu.Lock()
			isFirst := first
			first = false
			mu.Unlock()

			if isFirst {
				h.OnMessage(oryx.SSEMessage{Data: `{"event":"metadata","data":{"conversation_id":"c1","request_id":"r1","message_id":"m1"}}`})
				<-release
				<-ctx.Done()
				return ctx.Err()
			}
			h.OnMessage(oryx.SSEMessage{Data: `{"event":"metadata","data":{"conversation_id":"c1","request_id":"r2","message_id":"m2"}}`})
			h.OnClose()
			return nil
		}))

		Expect(s.Start(context.Background(), "first")).To(Succeed())
		Eventually(func() bool { _, ok := s.States().Get("m1"); return ok }).Should(BeTrue())

		Expect(s.Start(context.Background(), "second")).To(Succeed())
		Eventually(func() bool { _, ok := s.States().Get("m2"); return ok }).Should(BeTrue())

		st, _ := s.States().Get("m1")
		Expect(st.IsStreaming).To(BeTrue())

		close(release)
		s.Wait()

		st, _ = s.States().Get("m1")
		Expect(st.IsStreaming).To(BeFalse())
		Expect(st.Error).To(BeNil())
	})

	It("keeps a displaced turn's late metadata away from the new turn", func() {
		resend := make(chan struct{})
		resent := make(chan struct{})
		secondStarted := make(chan struct{})
		first := true
		var mu sync.Mutex
		metadata := `{"event":"metadata","data":{"conversation_id":"c1","request_id":"r1","message_id":"m1"}}`

		s := newSession(oryx.FetcherFunc(func(ctx context.Context, _ oryx.ChatRequest, h oryx.Handlers) error {
			mu.Lock()
			isFirst := first
			first = false
			mu.Unlock()

			if isFirst {
				h.OnMessage(oryx.SSEMessage{Data: metadata})
				<-resend
				h.OnMessage(oryx.SSEMessage{Data: metadata})
				close(resent)
			} else {
				close(secondStarted)
			}
			<-ctx.Done()
			return ctx.Err()
		}))

		Expect(s.Start(context.Background(), "first")).To(Succeed())
		Eventually(func() bool { _, ok := s.States().Get("m1"); return ok }).Should(BeTrue())

		Expect(s.Start(context.Background(), "second")).To(Succeed())
		Eventually(secondStarted).Should(BeClosed())

		close(resend)
		Eventually(resent).Should(BeClosed())

		Expect(s.States().IDs()).To(Equal([]string{"m1", oryx.PendingMessageID}))
		st, _ := s.States().Get("m1")
		Expect(st.UserMessage.Content).To(Equal("first"))
		pending, ok := s.States().Pending()
		Expect(ok).To(BeTrue())
		Expect(pending.UserMessage.Content).To(Equal("second"))
		Expect(logs.String()).To(ContainSubstring("ignoring metadata for a resolved stream"))

		s.Stop()
		s.Wait()
	})

	It("fails the turn when its deadline passes", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		s := newSession(newBlocking())
		Expect(s.Start(ctx, "hi")).To(Succeed())
		s.Wait()

		st, ok := s.States().Pending()
		Expect(ok).To(BeTrue())
		Expect(st.IsStreaming).To(BeFalse())
		Expect(st.Error).To(Equal(&oryx.StreamingError{Message: context.DeadlineExceeded.Error()}))
		Expect(oryx.Status(oryx.PendingMessageID, st)).To(Equal(oryx.TurnFailed))
	})

	It("continues the conversation on the next turn", func() {
		var requests []oryx.ChatRequest
		s := newSession(oryx.FetcherFunc(func(_ context.Context, req oryx.ChatRequest, h oryx.Handlers) error {
			requests = append(requests, req)
			h.OnMessage(oryx.SSEMessage{Data: `{"event":"metadata","data":{"conversation_id":"c1","request_id":"r","message_id":"m` + string(rune('0'+len(requests))) + `"}}`})
			h.OnClose()
			return nil
		}), oryx.WithExtras(map[string]any{"agent_id": "a1"}))

		Expect(s.Start(context.Background(), "one")).To(Succeed())
		s.Wait()
		Expect(s.ConversationID()).To(Equal("c1"))
		Expect(s.Start(context.Background(), "two")).To(Succeed())
		s.Wait()

		Expect(requests).To(HaveLen(2))
		Expect(requests[0].ConversationID).To(BeEmpty())
		Expect(requests[1].ConversationID).To(Equal("c1"))
		Expect(requests[1].Messages).To(Equal([]oryx.ChatMessage{{Role: oryx.RoleUser, Content: "two"}}))
		Expect(requests[1].Extras).To(HaveKeyWithValue("agent_id", "a1"))
		Expect(s.States().IDs()).To(Equal([]string{"m1", "m2"}))
	})
})
