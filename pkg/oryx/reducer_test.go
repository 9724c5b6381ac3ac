package oryx_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/oryx/pkg/oryx"
)

var _ = Describe("Reducer", func() {
	var (
		now     time.Time
		reducer *oryx.Reducer
	)

	BeforeEach(func() {
		now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		reducer = oryx.NewReducer(oryx.WithClock(func() time.Time { return now }))
	})

	// started returns states holding one resolved turn "m1" for prompt.
	started := func(prompt string) *oryx.States {
		s := reducer.Reduce(oryx.NewStates(), oryx.RequestStarted{Prompt: prompt})
		return reducer.Reduce(s, oryx.MetadataReceived{ConversationID: "c1", RequestID: "r1", MessageID: "m1"})
	}

	get := func(s *oryx.States, id string) *oryx.State {
		st, ok := s.Get(id)
		Expect(ok).To(BeTrue(), "expected state for %q", id)
		return st
	}

	Describe("REQUEST_STARTED", func() {
		It("opens a streaming turn under the placeholder", func() {
			s := reducer.Reduce(oryx.NewStates(), oryx.RequestStarted{Prompt: "hi"})

			st, ok := s.Pending()
			Expect(ok).To(BeTrue())
			Expect(st.IsStreaming).To(BeTrue())
			Expect(st.UserMessage).To(Equal(&oryx.UserMessage{Role: oryx.RoleUser, Content: "hi"}))
			Expect(st.AgentMessage).To(Equal(&oryx.AgentMessage{}))
			Expect(st.Retrievals).To(BeEmpty())
			Expect(st.Error).To(BeNil())
			Expect(st.RequestID).To(BeEmpty())
			Expect(st.ConversationID).To(BeEmpty())
		})

		It("accepts a nil snapshot", func() {
			s := reducer.Reduce(nil, oryx.RequestStarted{Prompt: "hi"})
			Expect(s.Len()).To(Equal(1))
		})

		It("does not modify the previous snapshot", func() {
			before := oryx.NewStates()
			_ = reducer.Reduce(before, oryx.RequestStarted{Prompt: "hi"})
			Expect(before.Len()).To(BeZero())
		})

		It("keeps a single placeholder entry when restarted", func() {
			s := reducer.Reduce(started("first"), oryx.RequestStarted{Prompt: "second"})
			s = reducer.Reduce(s, oryx.RequestFailed{MessageID: oryx.PendingMessageID, Error: oryx.StreamingError{Message: "x"}})
			s = reducer.Reduce(s, oryx.RequestStarted{Prompt: "third"})

			Expect(s.IDs()).To(Equal([]string{"m1", oryx.PendingMessageID}))
			Expect(get(s, oryx.PendingMessageID).UserMessage.Content).To(Equal("third"))
		})
	})

	Describe("METADATA_RECEIVED", func() {
		It("renames the placeholder to the message id", func() {
			s := started("hi")

			Expect(s.IDs()).To(Equal([]string{"m1"}))
			_, pending := s.Pending()
			Expect(pending).To(BeFalse())

			st := get(s, "m1")
			Expect(st.UserMessage.Content).To(Equal("hi"))
			Expect(st.ConversationID).To(Equal("c1"))
			Expect(st.RequestID).To(Equal("r1"))
			Expect(st.IsStreaming).To(BeTrue())
		})

		It("keeps the turn position when renaming", func() {
			s := started("first")
			s = reducer.Reduce(s, oryx.RequestStarted{Prompt: "second"})
			s = reducer.Reduce(s, oryx.MetadataReceived{MessageID: "m2"})
			Expect(s.IDs()).To(Equal([]string{"m1", "m2"}))
		})

		It("is a no-op without a pending turn", func() {
			s := started("hi")
			Expect(reducer.Reduce(s, oryx.MetadataReceived{MessageID: "m9"})).To(BeIdenticalTo(s))
		})

		It("is a no-op without a message id", func() {
			s := reducer.Reduce(oryx.NewStates(), oryx.RequestStarted{Prompt: "hi"})
			Expect(reducer.Reduce(s, oryx.MetadataReceived{ConversationID: "c1"})).To(BeIdenticalTo(s))
		})
	})

	Describe("STOP_ALL_REQUESTS", func() {
		It("stops every streaming turn", func() {
			s := started("first")
			s = reducer.Reduce(s, oryx.RequestStarted{Prompt: "second"})
			s = reducer.Reduce(s, oryx.StopAllRequests{})

			for _, st := range s.All() {
				Expect(st.IsStreaming).To(BeFalse())
			}
		})

		It("returns the same snapshot when nothing streams", func() {
			s := reducer.Reduce(started("hi"), oryx.RequestStopped{MessageID: "m1"})
			Expect(reducer.Reduce(s, oryx.StopAllRequests{})).To(BeIdenticalTo(s))
		})
	})

	Describe("messages for unknown turns", func() {
		DescribeTable("return the same snapshot",
			func(a oryx.Action) {
				s := started("hi")
				Expect(reducer.Reduce(s, a)).To(BeIdenticalTo(s))
			},
			Entry("REQUEST_FAILED", oryx.RequestFailed{MessageID: "nope"}),
			Entry("REQUEST_STOPPED", oryx.RequestStopped{MessageID: "nope"}),
			Entry("MESSAGE_DELTA", oryx.MessageDelta{MessageID: "nope", Delta: "x"}),
			Entry("MESSAGE_COMPLETE", oryx.MessageComplete{MessageID: "nope", Content: "x"}),
			Entry("RETRIEVALS_RECEIVED", oryx.RetrievalsReceived{MessageID: "nope", Retrievals: []oryx.Retrieval{{Number: 1}}}),
			Entry("REQUEST_ID_RECEIVED", oryx.RequestIDReceived{MessageID: "nope", RequestID: "r"}),
			Entry("QUERY_REFORMULATION_RECEIVED", oryx.QueryReformulationReceived{MessageID: "nope"}),
			Entry("STAGE_CHANGED", oryx.StageChanged{MessageID: "nope", Stage: oryx.StageGeneration}),
			Entry("TOOL_CALL_CREATED", oryx.ToolCallCreated{MessageID: "nope", ToolCallID: "t"}),
			Entry("TOOL_EXECUTION_STARTED", oryx.ToolExecutionStarted{MessageID: "nope", ToolCallID: "t"}),
			Entry("TOOL_CALL_COMPLETED", oryx.ToolCallCompleted{MessageID: "nope", ToolCallID: "t"}),
			Entry("THINKING_STARTED", oryx.ThinkingStarted{MessageID: "nope", ThinkingID: "k"}),
			Entry("THINKING_DELTA", oryx.ThinkingDelta{MessageID: "nope", ThinkingID: "k"}),
			Entry("THINKING_COMPLETED", oryx.ThinkingCompleted{MessageID: "nope", ThinkingID: "k"}),
			Entry("WORKFLOW_STEP_STARTED", oryx.WorkflowStepStarted{MessageID: "nope", StepID: "s"}),
			Entry("WORKFLOW_STEP_COMPLETED", oryx.WorkflowStepCompleted{MessageID: "nope", StepID: "s"}),
		)

		It("ignores sub-item updates for unknown items", func() {
			s := started("hi")
			Expect(reducer.Reduce(s, oryx.ToolCallCompleted{MessageID: "m1", ToolCallID: "missing"})).To(BeIdenticalTo(s))
			Expect(reducer.Reduce(s, oryx.ThinkingCompleted{MessageID: "m1", ThinkingID: "missing"})).To(BeIdenticalTo(s))
			Expect(reducer.Reduce(s, oryx.WorkflowStepCompleted{MessageID: "m1", StepID: "missing"})).To(BeIdenticalTo(s))
		})
	})

	Describe("agent message", func() {
		It("appends deltas", func() {
			s := started("hi")
			s = reducer.Reduce(s, oryx.MessageDelta{MessageID: "m1", Delta: "a"})
			s = reducer.Reduce(s, oryx.MessageDelta{MessageID: "m1", Delta: "b"})
			Expect(get(s, "m1").AgentMessage.Content).To(Equal("ab"))
		})

		It("overwrites content on completion", func() {
			s := started("hi")
			s = reducer.Reduce(s, oryx.MessageDelta{MessageID: "m1", Delta: "draft"})
			s = reducer.Reduce(s, oryx.MessageComplete{MessageID: "m1", Content: "final"})

			msg := get(s, "m1").AgentMessage
			Expect(msg.Content).To(Equal("final"))
			Expect(msg.IsCompleted).To(BeTrue())
		})

		It("leaves earlier snapshots untouched", func() {
			s1 := reducer.Reduce(started("hi"), oryx.MessageDelta{MessageID: "m1", Delta: "a"})
			_ = reducer.Reduce(s1, oryx.MessageDelta{MessageID: "m1", Delta: "b"})
			Expect(get(s1, "m1").AgentMessage.Content).To(Equal("a"))
		})
	})

	Describe("terminal transitions", func() {
		It("records failures", func() {
			s := reducer.Reduce(started("hi"), oryx.RequestFailed{
				MessageID: "m1",
				Error:     oryx.StreamingError{Message: "boom", Code: "E1"},
			})
			st := get(s, "m1")
			Expect(st.IsStreaming).To(BeFalse())
			Expect(st.Error).To(Equal(&oryx.StreamingError{Message: "boom", Code: "E1"}))
		})

		It("stops without an error", func() {
			s := reducer.Reduce(started("hi"), oryx.RequestStopped{MessageID: "m1"})
			st := get(s, "m1")
			Expect(st.IsStreaming).To(BeFalse())
			Expect(st.Error).To(BeNil())
		})
	})

	Describe("turn metadata", func() {
		It("replaces retrievals instead of merging", func() {
			first := []oryx.Retrieval{{ContentID: "a", Number: 1}, {ContentID: "b", Number: 2}}
			second := []oryx.Retrieval{{ContentID: "c", Number: 1}}

			s := reducer.Reduce(started("hi"), oryx.RetrievalsReceived{MessageID: "m1", Retrievals: first})
			s = reducer.Reduce(s, oryx.RetrievalsReceived{MessageID: "m1", Retrievals: second})
			Expect(get(s, "m1").Retrievals).To(Equal(second))
		})

		It("overwrites request id, reformulated query and stage", func() {
			s := started("hi")
			s = reducer.Reduce(s, oryx.RequestIDReceived{MessageID: "m1", RequestID: "r2"})
			s = reducer.Reduce(s, oryx.QueryReformulationReceived{MessageID: "m1", ReformulatedQuery: "hello world"})
			s = reducer.Reduce(s, oryx.StageChanged{MessageID: "m1", Stage: oryx.StageRetrieval})
			s = reducer.Reduce(s, oryx.StageChanged{MessageID: "m1", Stage: oryx.StageGeneration})

			st := get(s, "m1")
			Expect(st.RequestID).To(Equal("r2"))
			Expect(st.ReformulatedQuery).To(Equal("hello world"))
			Expect(st.CurrentStage).To(Equal(oryx.StageGeneration))
		})
	})

	Describe("tool calls", func() {
		It("moves a created call through execution to completion", func() {
			s := reducer.Reduce(started("hi"), oryx.ToolCallCreated{MessageID: "m1", ToolCallID: "t1", ToolName: "search"})
			Expect(get(s, "m1").ToolCalls[0].Status).To(Equal(oryx.ToolCallStatusCreated))

			s = reducer.Reduce(s, oryx.ToolExecutionStarted{MessageID: "m1", ToolCallID: "t1", ToolName: "search"})
			Expect(get(s, "m1").ToolCalls).To(HaveLen(1))
			Expect(get(s, "m1").ToolCalls[0].Status).To(Equal(oryx.ToolCallStatusExecuting))

			now = now.Add(time.Second)
			s = reducer.Reduce(s, oryx.ToolCallCompleted{MessageID: "m1", ToolCallID: "t1", Output: "ok"})
			tc := get(s, "m1").ToolCalls[0]
			Expect(tc.Status).To(Equal(oryx.ToolCallStatusCompleted))
			Expect(tc.Output).To(Equal("ok"))
			Expect(tc.CompletedAt).To(Equal(now))
			Expect(tc.CreatedAt).To(Equal(now.Add(-time.Second)))
		})

		It("creates the call when execution starts first", func() {
			s := reducer.Reduce(started("hi"), oryx.ToolExecutionStarted{
				MessageID: "m1", ToolCallID: "t1", ToolName: "search", Arguments: map[string]any{"q": "x"},
			})
			tc := get(s, "m1").ToolCalls[0]
			Expect(tc.Status).To(Equal(oryx.ToolCallStatusExecuting))
			Expect(tc.Arguments).To(Equal(map[string]any{"q": "x"}))
		})

		It("records failed calls", func() {
			s := reducer.Reduce(started("hi"), oryx.ToolExecutionStarted{MessageID: "m1", ToolCallID: "t1"})
			s = reducer.Reduce(s, oryx.ToolCallCompleted{MessageID: "m1", ToolCallID: "t1", Failed: true, Error: "timeout"})
			tc := get(s, "m1").ToolCalls[0]
			Expect(tc.Status).To(Equal(oryx.ToolCallStatusFailed))
			Expect(tc.Error).To(Equal("timeout"))
		})

		It("updates in place without reordering", func() {
			s := started("hi")
			for _, id := range []string{"t1", "t2", "t3"} {
				s = reducer.Reduce(s, oryx.ToolExecutionStarted{MessageID: "m1", ToolCallID: id})
			}
			s = reducer.Reduce(s, oryx.ToolCallCompleted{MessageID: "m1", ToolCallID: "t2"})

			calls := get(s, "m1").ToolCalls
			Expect([]string{calls[0].ID, calls[1].ID, calls[2].ID}).To(Equal([]string{"t1", "t2", "t3"}))
			Expect(calls[1].Status).To(Equal(oryx.ToolCallStatusCompleted))
			Expect(calls[0].Status).To(Equal(oryx.ToolCallStatusExecuting))
		})
	})

	Describe("thinking steps", func() {
		It("accumulates deltas and completes with a summary", func() {
			s := reducer.Reduce(started("hi"), oryx.ThinkingStarted{MessageID: "m1", ThinkingID: "k1"})
			s = reducer.Reduce(s, oryx.ThinkingDelta{MessageID: "m1", ThinkingID: "k1", Delta: "let me "})
			s = reducer.Reduce(s, oryx.ThinkingDelta{MessageID: "m1", ThinkingID: "k1", Delta: "think"})
			s = reducer.Reduce(s, oryx.ThinkingCompleted{MessageID: "m1", ThinkingID: "k1", Summary: "thought"})

			steps := get(s, "m1").ThinkingSteps
			Expect(steps).To(HaveLen(1))
			Expect(steps[0].Content).To(Equal("let me think"))
			Expect(steps[0].Summary).To(Equal("thought"))
			Expect(steps[0].IsCompleted).To(BeTrue())
			Expect(steps[0].CompletedAt).To(Equal(now))
		})

		It("creates a step for a delta without a start", func() {
			s := reducer.Reduce(started("hi"), oryx.ThinkingDelta{MessageID: "m1", ThinkingID: "default", Delta: "hmm"})
			steps := get(s, "m1").ThinkingSteps
			Expect(steps).To(HaveLen(1))
			Expect(steps[0].ID).To(Equal("default"))
			Expect(steps[0].Content).To(Equal("hmm"))
			Expect(steps[0].IsCompleted).To(BeFalse())
		})
	})

	Describe("workflow steps", func() {
		It("starts running and completes by default", func() {
			s := reducer.Reduce(started("hi"), oryx.WorkflowStepStarted{MessageID: "m1", StepID: "s1", Name: "plan", StepType: "llm"})
			ws := get(s, "m1").WorkflowSteps[0]
			Expect(ws.Status).To(Equal(oryx.WorkflowStepStatusRunning))
			Expect(ws.Name).To(Equal("plan"))
			Expect(ws.Type).To(Equal("llm"))

			s = reducer.Reduce(s, oryx.WorkflowStepCompleted{MessageID: "m1", StepID: "s1"})
			Expect(get(s, "m1").WorkflowSteps[0].Status).To(Equal(oryx.WorkflowStepStatusCompleted))
		})

		It("keeps an explicit end status", func() {
			s := reducer.Reduce(started("hi"), oryx.WorkflowStepStarted{MessageID: "m1", StepID: "s1"})
			s = reducer.Reduce(s, oryx.WorkflowStepCompleted{MessageID: "m1", StepID: "s1", Status: oryx.WorkflowStepStatusFailed})
			Expect(get(s, "m1").WorkflowSteps[0].Status).To(Equal(oryx.WorkflowStepStatusFailed))
		})
	})
})
