package oryx

import (
	"log/slog"
	"slices"
	"time"

	"github.com/papercomputeco/oryx/pkg/logger"
)

// Reducer folds actions into States. Reduce never mutates its input and
// returns the same pointer when an action changes nothing.
type Reducer struct {
	now    func() time.Time
	logger *slog.Logger
}

// ReducerOption configures a Reducer.
type ReducerOption func(*Reducer)

// WithClock overrides the timestamp source for tool, thinking and workflow items.
func WithClock(now func() time.Time) ReducerOption {
	return func(r *Reducer) {
		r.now = now
	}
}

// WithReducerLogger sets the logger used for dropped session-level actions.
func WithReducerLogger(l *slog.Logger) ReducerOption {
	return func(r *Reducer) {
		r.logger = l
	}
}

// NewReducer creates a Reducer.
func NewReducer(opts ...ReducerOption) *Reducer {
	r := &Reducer{
		now:    time.Now,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reduce applies a to states and returns the next snapshot.
func (r *Reducer) Reduce(states *States, a Action) *States {
	switch a := a.(type) {
	case RequestStarted:
		return r.requestStarted(states, a)
	case MetadataReceived:
		return r.metadataReceived(states, a)
	case StopAllRequests:
		return stopAll(states)
	case MessageAction:
		prev, ok := states.Get(a.Message())
		if !ok {
			return states
		}
		next := r.reduceMessage(prev, a)
		if next == nil || next == prev {
			return states
		}
		return states.put(a.Message(), next)
	}
	return states
}

func (r *Reducer) requestStarted(states *States, a RequestStarted) *States {
	st := &State{
		UserMessage:   &UserMessage{Role: RoleUser, Content: a.Prompt},
		AgentMessage:  &AgentMessage{},
		Retrievals:    []Retrieval{},
		IsStreaming:   true,
		ToolCalls:     []ToolCall{},
		ThinkingSteps: []ThinkingStep{},
		WorkflowSteps: []WorkflowStep{},
	}
	if _, exists := states.Pending(); exists {
		states = states.remove(PendingMessageID)
	}
	return states.put(PendingMessageID, st)
}

func (r *Reducer) metadataReceived(states *States, a MetadataReceived) *States {
	prev, ok := states.Pending()
	if !ok {
		r.logger.Warn("no pending message state found for metadata event", "message_id", a.MessageID)
		return states
	}
	if a.MessageID == "" {
		r.logger.Warn("no message id received for metadata event")
		return states
	}

	next := prev.clone()
	next.ConversationID = a.ConversationID
	next.RequestID = a.RequestID
	return states.rename(PendingMessageID, a.MessageID, next)
}

func stopAll(states *States) *States {
	var next *States
	for id, st := range states.All() {
		if !st.IsStreaming {
			continue
		}
		if next == nil {
			next = states.copy()
		}
		stopped := st.clone()
		stopped.IsStreaming = false
		next.entries[id] = stopped
	}
	if next == nil {
		return states
	}
	return next
}

// reduceMessage returns the replacement for prev, or prev itself when a
// changes nothing.
func (r *Reducer) reduceMessage(prev *State, a MessageAction) *State {
	switch a := a.(type) {
	case RequestFailed:
		next := prev.clone()
		next.IsStreaming = false
		next.Error = &StreamingError{Message: a.Error.Message, Code: a.Error.Code}
		return next

	case RequestStopped:
		if !prev.IsStreaming {
			return prev
		}
		next := prev.clone()
		next.IsStreaming = false
		return next

	case MessageDelta:
		if prev.AgentMessage == nil {
			return prev
		}
		next := prev.clone()
		next.AgentMessage = &AgentMessage{
			Content:     prev.AgentMessage.Content + a.Delta,
			IsCompleted: prev.AgentMessage.IsCompleted,
		}
		return next

	case MessageComplete:
		if prev.AgentMessage == nil {
			return prev
		}
		next := prev.clone()
		next.AgentMessage = &AgentMessage{Content: a.Content, IsCompleted: true}
		return next

	case RetrievalsReceived:
		next := prev.clone()
		next.Retrievals = slices.Clone(a.Retrievals)
		return next

	case RequestIDReceived:
		next := prev.clone()
		next.RequestID = a.RequestID
		return next

	case QueryReformulationReceived:
		next := prev.clone()
		next.ReformulatedQuery = a.ReformulatedQuery
		return next

	case StageChanged:
		next := prev.clone()
		next.CurrentStage = a.Stage
		return next

	case ToolCallCreated:
		next := prev.clone()
		next.ToolCalls = append(slices.Clone(prev.ToolCalls), ToolCall{
			ID:        a.ToolCallID,
			Name:      a.ToolName,
			Arguments: a.Arguments,
			Status:    ToolCallStatusCreated,
			CreatedAt: r.now(),
		})
		return next

	case ToolExecutionStarted:
		next := prev.clone()
		calls, found := updateByID(prev.ToolCalls, a.ToolCallID, func(tc ToolCall) string { return tc.ID },
			func(tc *ToolCall) { tc.Status = ToolCallStatusExecuting })
		if !found {
			calls = append(calls, ToolCall{
				ID:        a.ToolCallID,
				Name:      a.ToolName,
				Arguments: a.Arguments,
				Status:    ToolCallStatusExecuting,
				CreatedAt: r.now(),
			})
		}
		next.ToolCalls = calls
		return next

	case ToolCallCompleted:
		now := r.now()
		calls, found := updateByID(prev.ToolCalls, a.ToolCallID, func(tc ToolCall) string { return tc.ID },
			func(tc *ToolCall) {
				tc.Status = ToolCallStatusCompleted
				if a.Failed {
					tc.Status = ToolCallStatusFailed
				}
				tc.Output = a.Output
				tc.Error = a.Error
				tc.CompletedAt = now
			})
		if !found {
			return prev
		}
		next := prev.clone()
		next.ToolCalls = calls
		return next

	case ThinkingStarted:
		next := prev.clone()
		next.ThinkingSteps = append(slices.Clone(prev.ThinkingSteps), ThinkingStep{
			ID:        a.ThinkingID,
			StartedAt: r.now(),
		})
		return next

	case ThinkingDelta:
		next := prev.clone()
		steps, found := updateByID(prev.ThinkingSteps, a.ThinkingID, func(ts ThinkingStep) string { return ts.ID },
			func(ts *ThinkingStep) { ts.Content += a.Delta })
		if !found {
			steps = append(steps, ThinkingStep{
				ID:        a.ThinkingID,
				Content:   a.Delta,
				StartedAt: r.now(),
			})
		}
		next.ThinkingSteps = steps
		return next

	case ThinkingCompleted:
		now := r.now()
		steps, found := updateByID(prev.ThinkingSteps, a.ThinkingID, func(ts ThinkingStep) string { return ts.ID },
			func(ts *ThinkingStep) {
				ts.IsCompleted = true
				ts.Summary = a.Summary
				ts.CompletedAt = now
			})
		if !found {
			return prev
		}
		next := prev.clone()
		next.ThinkingSteps = steps
		return next

	case WorkflowStepStarted:
		next := prev.clone()
		next.WorkflowSteps = append(slices.Clone(prev.WorkflowSteps), WorkflowStep{
			ID:        a.StepID,
			Name:      a.Name,
			Type:      a.StepType,
			Status:    WorkflowStepStatusRunning,
			StartedAt: r.now(),
		})
		return next

	case WorkflowStepCompleted:
		status := a.Status
		if status == "" {
			status = WorkflowStepStatusCompleted
		}
		now := r.now()
		steps, found := updateByID(prev.WorkflowSteps, a.StepID, func(ws WorkflowStep) string { return ws.ID },
			func(ws *WorkflowStep) {
				ws.Status = status
				ws.CompletedAt = now
			})
		if !found {
			return prev
		}
		next := prev.clone()
		next.WorkflowSteps = steps
		return next
	}
	return prev
}

// updateByID returns a copy of items with fn applied to every element whose
// id matches. Order is preserved.
func updateByID[T any](items []T, id string, key func(T) string, fn func(*T)) ([]T, bool) {
	out := slices.Clone(items)
	found := false
	for i := range out {
		if key(out[i]) == id {
			fn(&out[i])
			found = true
		}
	}
	return out, found
}
