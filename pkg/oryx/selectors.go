package oryx

import (
	"regexp"
	"strconv"
)

// TurnStatus summarizes where a turn is in its lifecycle.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnStreaming TurnStatus = "streaming"
	TurnCompleted TurnStatus = "completed"
	TurnStopped   TurnStatus = "stopped"
	TurnFailed    TurnStatus = "failed"
)

// Status derives the lifecycle status of the turn stored under id.
func Status(id string, st *State) TurnStatus {
	switch {
	case st == nil:
		return ""
	case st.Error != nil:
		return TurnFailed
	case st.IsStreaming && id == PendingMessageID:
		return TurnPending
	case st.IsStreaming:
		return TurnStreaming
	case st.AgentMessage != nil && st.AgentMessage.IsCompleted:
		return TurnCompleted
	default:
		return TurnStopped
	}
}

// Latest returns the most recently started turn.
func (s *States) Latest() (string, *State, bool) {
	if s.Len() == 0 {
		return "", nil, false
	}
	id := s.order[len(s.order)-1]
	return id, s.entries[id], true
}

// Streaming returns the ids of turns still streaming, in turn order.
func (s *States) Streaming() []string {
	var ids []string
	for id, st := range s.All() {
		if st.IsStreaming {
			ids = append(ids, id)
		}
	}
	return ids
}

// ToolCallsByStatus returns the tool calls of st with the given status.
func ToolCallsByStatus(st *State, status ToolCallStatus) []ToolCall {
	if st == nil {
		return nil
	}
	var out []ToolCall
	for _, tc := range st.ToolCalls {
		if tc.Status == status {
			out = append(out, tc)
		}
	}
	return out
}

// ActiveThinking returns thinking steps that have not completed.
func ActiveThinking(st *State) []ThinkingStep {
	return filterThinking(st, false)
}

// CompletedThinking returns thinking steps that have completed.
func CompletedThinking(st *State) []ThinkingStep {
	return filterThinking(st, true)
}

func filterThinking(st *State, completed bool) []ThinkingStep {
	if st == nil {
		return nil
	}
	var out []ThinkingStep
	for _, ts := range st.ThinkingSteps {
		if ts.IsCompleted == completed {
			out = append(out, ts)
		}
	}
	return out
}

// WorkflowStepsByStatus returns the workflow steps of st with the given status.
func WorkflowStepsByStatus(st *State, status WorkflowStepStatus) []WorkflowStep {
	if st == nil {
		return nil
	}
	var out []WorkflowStep
	for _, ws := range st.WorkflowSteps {
		if ws.Status == status {
			out = append(out, ws)
		}
	}
	return out
}

// RetrievalByNumber finds the retrieval cited as [number].
func RetrievalByNumber(st *State, number int) (Retrieval, bool) {
	if st == nil {
		return Retrieval{}, false
	}
	for _, r := range st.Retrievals {
		if r.Number == number {
			return r, true
		}
	}
	return Retrieval{}, false
}

// RetrievalByContentID finds the retrieval with the given content id.
func RetrievalByContentID(st *State, contentID string) (Retrieval, bool) {
	if st == nil {
		return Retrieval{}, false
	}
	for _, r := range st.Retrievals {
		if r.ContentID == contentID {
			return r, true
		}
	}
	return Retrieval{}, false
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Citation is an inline [n] marker found in agent text.
type Citation struct {
	Number int
	// Start and End are byte offsets of the marker in the text.
	Start, End int
	Retrieval  *Retrieval
}

// Citations scans the agent message of st for [n] markers and resolves each
// against the turn's retrievals. Unresolved markers have a nil Retrieval.
func Citations(st *State) []Citation {
	if st == nil || st.AgentMessage == nil {
		return nil
	}
	text := st.AgentMessage.Content

	var out []Citation
	for _, m := range citationPattern.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		c := Citation{Number: n, Start: m[0], End: m[1]}
		if r, ok := RetrievalByNumber(st, n); ok {
			c.Retrieval = &r
		}
		out = append(out, c)
	}
	return out
}
