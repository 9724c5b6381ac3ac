package oryx

// EventType is the closed set of stream event types emitted by the agent backend.
type EventType string

const (
	EventMetadata           EventType = "metadata"
	EventRequestID          EventType = "request_id"
	EventQueryReformulation EventType = "query_reformulation"
	EventRetrievals         EventType = "retrievals"
	EventMessageDelta       EventType = "message_delta"
	EventMessageComplete    EventType = "message_complete"
	EventStepping           EventType = "stepping"
	EventToolCallStart      EventType = "tool_call_start"
	EventToolCallEnd        EventType = "tool_call_end"
	EventThinkingStart      EventType = "thinking_start"
	EventThinkingDelta      EventType = "thinking_delta"
	EventThinkingEnd        EventType = "thinking_end"
	EventStepStart          EventType = "step_start"
	EventStepEnd            EventType = "step_end"
	EventError              EventType = "error"
	EventEnd                EventType = "end"
)

var supportedEventTypes = map[EventType]struct{}{
	EventMetadata:           {},
	EventRequestID:          {},
	EventQueryReformulation: {},
	EventRetrievals:         {},
	EventMessageDelta:       {},
	EventMessageComplete:    {},
	EventStepping:           {},
	EventToolCallStart:      {},
	EventToolCallEnd:        {},
	EventThinkingStart:      {},
	EventThinkingDelta:      {},
	EventThinkingEnd:        {},
	EventStepStart:          {},
	EventStepEnd:            {},
	EventError:              {},
	EventEnd:                {},
}

// informationalEventTypes are emitted by the backend but carry nothing the
// state needs. They are dropped without a warning.
var informationalEventTypes = map[string]struct{}{
	"attributions": {},
}

// Supported reports whether t is part of the closed event enumeration.
func (t EventType) Supported() bool {
	_, ok := supportedEventTypes[t]
	return ok
}

// defaultThinkingID keys thinking deltas that arrive without a think_id.
const defaultThinkingID = "default"

type metadataPayload struct {
	ConversationID string
	RequestID      string
	MessageID      string
}

func parseMetadata(p Payload) (metadataPayload, error) {
	r := newFieldReader(p)
	out := metadataPayload{
		ConversationID: r.str("conversation_id"),
		RequestID:      r.str("request_id"),
		MessageID:      r.str("message_id"),
	}
	return out, r.err("metadata payload")
}

func parseRequestID(p Payload) (string, error) {
	r := newFieldReader(p)
	id := r.str("request_id")
	return id, r.err("request_id payload")
}

func parseQueryReformulation(p Payload) (string, error) {
	r := newFieldReader(p)
	q := r.str("reformulated_query")
	return q, r.err("query_reformulation payload")
}

func parseMessageDelta(p Payload) (string, error) {
	r := newFieldReader(p)
	d := r.str("delta")
	return d, r.err("message_delta payload")
}

func parseMessageComplete(p Payload) (string, error) {
	r := newFieldReader(p)
	m := r.str("final_message")
	return m, r.err("message_complete payload")
}

func parseStepping(p Payload) (Stage, error) {
	r := newFieldReader(p)
	stage := Stage(r.str("type"))
	if len(r.issues) == 0 && !stage.Valid() {
		r.fail("type", "unknown stage %q", stage)
	}
	return stage, r.err("stepping payload")
}

type toolCallStartPayload struct {
	ToolID   string
	ToolName string
	ToolArgs string
}

func parseToolCallStart(p Payload) (toolCallStartPayload, error) {
	r := newFieldReader(p)
	out := toolCallStartPayload{
		ToolID:   r.str("tool_id"),
		ToolName: r.str("tool_name"),
		ToolArgs: r.str("tool_args"),
	}
	r.optStr("agent_id")
	return out, r.err("tool_call_start payload")
}

type toolCallEndPayload struct {
	ToolID     string
	ToolOutput string
	Successful bool
	Error      string
}

func parseToolCallEnd(p Payload) (toolCallEndPayload, error) {
	r := newFieldReader(p)
	out := toolCallEndPayload{
		ToolID:     r.str("tool_id"),
		ToolOutput: r.str("tool_output"),
		Successful: r.boolean("successful"),
		Error:      r.str("error"),
	}
	r.optStr("agent_id")
	return out, r.err("tool_call_end payload")
}

func parseThinkingStart(p Payload) (string, error) {
	r := newFieldReader(p)
	id := r.str("think_id")
	r.optStr("agent_id")
	return id, r.err("thinking_start payload")
}

type thinkingDeltaPayload struct {
	ThinkID string
	Delta   string
}

func parseThinkingDelta(p Payload) (thinkingDeltaPayload, error) {
	r := newFieldReader(p)
	out := thinkingDeltaPayload{
		ThinkID: r.optStr("think_id"),
		Delta:   r.str("delta"),
	}
	if out.ThinkID == "" {
		out.ThinkID = defaultThinkingID
	}
	return out, r.err("thinking_delta payload")
}

type thinkingEndPayload struct {
	ThinkID string
	Summary string
}

func parseThinkingEnd(p Payload) (thinkingEndPayload, error) {
	r := newFieldReader(p)
	out := thinkingEndPayload{
		ThinkID: r.str("think_id"),
		Summary: r.str("thinking_summary"),
	}
	r.optStr("agent_id")
	return out, r.err("thinking_end payload")
}

type stepStartPayload struct {
	StepID   string
	StepName string
	StepType string
}

func parseStepStart(p Payload) (stepStartPayload, error) {
	r := newFieldReader(p)
	out := stepStartPayload{
		StepID:   r.str("step_id"),
		StepName: r.optStr("step_name"),
		StepType: r.optStr("step_type"),
	}
	return out, r.err("step_start payload")
}

type stepEndPayload struct {
	StepID string
	Status WorkflowStepStatus
}

func parseStepEnd(p Payload) (stepEndPayload, error) {
	r := newFieldReader(p)
	out := stepEndPayload{
		StepID: r.str("step_id"),
		Status: WorkflowStepStatus(r.optStr("status")),
	}
	if out.Status != "" {
		r.oneOf("status", string(out.Status),
			string(WorkflowStepStatusCompleted), string(WorkflowStepStatusFailed), string(WorkflowStepStatusCancelled))
	}
	return out, r.err("step_end payload")
}

type errorPayload struct {
	Status     int
	Message    string
	ErrorCode  string
	TraceStack string
}

func parseErrorPayload(p Payload) (errorPayload, error) {
	r := newFieldReader(p)
	out := errorPayload{
		Status:     r.integer("status"),
		Message:    r.str("message"),
		ErrorCode:  r.optStr("error_code"),
		TraceStack: r.optStr("trace_stack"),
	}
	return out, r.err("error payload")
}
