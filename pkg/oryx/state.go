package oryx

import (
	"iter"
	"slices"
	"time"
)

// PendingMessageID is the reserved key holding a turn before the backend
// assigns its message id.
const PendingMessageID = "__oryx_pending_message__"

// Role of a conversation message author.
type Role string

const RoleUser Role = "user"

// UserMessage is the prompt that started a turn.
type UserMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// AgentMessage accumulates the streamed agent answer.
type AgentMessage struct {
	Content     string `json:"content"`
	IsCompleted bool   `json:"is_completed"`
}

// StreamingError is the terminal error recorded on a turn.
type StreamingError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Stage is the coarse pipeline phase the backend reports via stepping events.
type Stage string

const (
	StageRetrieval      Stage = "retrieval"
	StageGeneration     Stage = "generation"
	StageAttribution    Stage = "attribution"
	StageThinking       Stage = "thinking"
	StageToolExecution  Stage = "tool_execution"
	StagePostProcessing Stage = "post_processing"
	StageFinalization   Stage = "finalization"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageRetrieval, StageGeneration, StageAttribution, StageThinking,
		StageToolExecution, StagePostProcessing, StageFinalization:
		return true
	}
	return false
}

// RetrievalKind is the retrieval type; only files are produced today.
type RetrievalKind string

const RetrievalFile RetrievalKind = "file"

// Retrieval is a source the agent consulted, normalized for citation and preview.
type Retrieval struct {
	// ContentID is the key used by preview fetchers.
	ContentID string `json:"content_id"`
	// Number is the 1-based citation index.
	Number  int            `json:"number"`
	Type    RetrievalKind  `json:"type"`
	Name    string         `json:"name"`
	Snippet string         `json:"snippet,omitempty"`
	Extras  map[string]any `json:"extras,omitempty"`
}

type ToolCallStatus string

const (
	ToolCallStatusCreated   ToolCallStatus = "created"
	ToolCallStatusExecuting ToolCallStatus = "executing"
	ToolCallStatusCompleted ToolCallStatus = "completed"
	ToolCallStatusFailed    ToolCallStatus = "failed"
)

type ToolCall struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Status      ToolCallStatus `json:"status"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
}

type ThinkingStep struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Summary     string    `json:"summary,omitempty"`
	IsCompleted bool      `json:"is_completed"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

type WorkflowStepStatus string

const (
	WorkflowStepStatusRunning   WorkflowStepStatus = "running"
	WorkflowStepStatusCompleted WorkflowStepStatus = "completed"
	WorkflowStepStatusFailed    WorkflowStepStatus = "failed"
	WorkflowStepStatusCancelled WorkflowStepStatus = "cancelled"
)

type WorkflowStep struct {
	ID          string             `json:"id"`
	Name        string             `json:"name,omitempty"`
	Type        string             `json:"type,omitempty"`
	Status      WorkflowStepStatus `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at,omitzero"`
}

// State is the render-ready state of one turn. A State reachable from a
// States snapshot is never mutated; the reducer copies before changing it.
type State struct {
	UserMessage       *UserMessage    `json:"user_message,omitempty"`
	AgentMessage      *AgentMessage   `json:"agent_message,omitempty"`
	Retrievals        []Retrieval     `json:"retrievals"`
	IsStreaming       bool            `json:"is_streaming"`
	Error             *StreamingError `json:"error,omitempty"`
	RequestID         string          `json:"request_id,omitempty"`
	ConversationID    string          `json:"conversation_id,omitempty"`
	ReformulatedQuery string          `json:"reformulated_query,omitempty"`
	CurrentStage      Stage           `json:"current_stage,omitempty"`
	ToolCalls         []ToolCall      `json:"tool_calls"`
	ThinkingSteps     []ThinkingStep  `json:"thinking_steps"`
	WorkflowSteps     []WorkflowStep  `json:"workflow_steps"`
}

// clone returns a shallow copy whose fields can be replaced without touching s.
func (s *State) clone() *State {
	c := *s
	return &c
}

// States is an immutable snapshot of every turn in a session, in the order
// turns were started. The zero value and nil are both empty.
type States struct {
	order   []string
	entries map[string]*State
}

// NewStates returns an empty snapshot.
func NewStates() *States {
	return &States{entries: map[string]*State{}}
}

// Len returns the number of turns.
func (s *States) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Get returns the state stored under id.
func (s *States) Get(id string) (*State, bool) {
	if s == nil {
		return nil, false
	}
	st, ok := s.entries[id]
	return st, ok
}

// Pending returns the turn still waiting for its message id, if any.
func (s *States) Pending() (*State, bool) {
	return s.Get(PendingMessageID)
}

// IDs returns message ids in turn order.
func (s *States) IDs() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.order)
}

// All iterates turns in order.
func (s *States) All() iter.Seq2[string, *State] {
	return func(yield func(string, *State) bool) {
		if s == nil {
			return
		}
		for _, id := range s.order {
			if !yield(id, s.entries[id]) {
				return
			}
		}
	}
}

// put returns a copy of s with id set to st. A new id is appended to the order.
func (s *States) put(id string, st *State) *States {
	next := s.copy()
	if _, exists := next.entries[id]; !exists {
		next.order = append(next.order, id)
	}
	next.entries[id] = st
	return next
}

// rename returns a copy of s where the entry under from moves to to,
// keeping its position. An existing entry under to is replaced.
func (s *States) rename(from, to string, st *State) *States {
	next := s.copy()
	if _, exists := next.entries[to]; exists {
		next.order = slices.DeleteFunc(next.order, func(id string) bool { return id == to })
	}
	for i, id := range next.order {
		if id == from {
			next.order[i] = to
		}
	}
	delete(next.entries, from)
	next.entries[to] = st
	return next
}

// remove returns a copy of s without id.
func (s *States) remove(id string) *States {
	next := s.copy()
	next.order = slices.DeleteFunc(next.order, func(o string) bool { return o == id })
	delete(next.entries, id)
	return next
}

func (s *States) copy() *States {
	if s == nil {
		return NewStates()
	}
	next := &States{
		order:   slices.Clone(s.order),
		entries: make(map[string]*State, len(s.entries)+1),
	}
	for id, st := range s.entries {
		next.entries[id] = st
	}
	return next
}
