package oryx

// ActionType names a state transition.
type ActionType string

const (
	ActionRequestStarted             ActionType = "REQUEST_STARTED"
	ActionMetadataReceived           ActionType = "METADATA_RECEIVED"
	ActionStopAllRequests            ActionType = "STOP_ALL_REQUESTS"
	ActionRequestFailed              ActionType = "REQUEST_FAILED"
	ActionRequestStopped             ActionType = "REQUEST_STOPPED"
	ActionMessageDelta               ActionType = "MESSAGE_DELTA"
	ActionMessageComplete            ActionType = "MESSAGE_COMPLETE"
	ActionRetrievalsReceived         ActionType = "RETRIEVALS_RECEIVED"
	ActionRequestIDReceived          ActionType = "REQUEST_ID_RECEIVED"
	ActionQueryReformulationReceived ActionType = "QUERY_REFORMULATION_RECEIVED"
	ActionStageChanged               ActionType = "STAGE_CHANGED"
	ActionToolCallCreated            ActionType = "TOOL_CALL_CREATED"
	ActionToolExecutionStarted       ActionType = "TOOL_EXECUTION_STARTED"
	ActionToolCallCompleted          ActionType = "TOOL_CALL_COMPLETED"
	ActionThinkingStarted            ActionType = "THINKING_STARTED"
	ActionThinkingDelta              ActionType = "THINKING_DELTA"
	ActionThinkingCompleted          ActionType = "THINKING_COMPLETED"
	ActionWorkflowStepStarted        ActionType = "WORKFLOW_STEP_STARTED"
	ActionWorkflowStepCompleted      ActionType = "WORKFLOW_STEP_COMPLETED"
)

// Action is a single state transition fed to the Reducer.
//
// Session-scoped actions (RequestStarted, MetadataReceived, StopAllRequests)
// address the whole state map. Every other action implements MessageAction
// and addresses exactly one turn.
type Action interface {
	Type() ActionType
}

// MessageAction is an Action bound to one turn.
type MessageAction interface {
	Action
	Message() string
}

// RequestStarted opens a new turn under the pending placeholder.
type RequestStarted struct {
	Prompt string
}

// MetadataReceived resolves the pending placeholder to the backend message id.
type MetadataReceived struct {
	ConversationID string
	RequestID      string
	MessageID      string
}

// StopAllRequests clears the streaming flag on every turn.
type StopAllRequests struct{}

type RequestFailed struct {
	MessageID string
	Error     StreamingError
}

type RequestStopped struct {
	MessageID string
}

type MessageDelta struct {
	MessageID string
	Delta     string
}

type MessageComplete struct {
	MessageID string
	Content   string
}

type RetrievalsReceived struct {
	MessageID  string
	Retrievals []Retrieval
}

type RequestIDReceived struct {
	MessageID string
	RequestID string
}

type QueryReformulationReceived struct {
	MessageID         string
	ReformulatedQuery string
}

type StageChanged struct {
	MessageID string
	Stage     Stage
}

type ToolCallCreated struct {
	MessageID  string
	ToolCallID string
	ToolName   string
	Arguments  map[string]any
}

// ToolExecutionStarted marks a tool call as executing, creating it when the
// backend skipped the creation step.
type ToolExecutionStarted struct {
	MessageID  string
	ToolCallID string
	ToolName   string
	Arguments  map[string]any
}

type ToolCallCompleted struct {
	MessageID  string
	ToolCallID string
	Output     string
	// Failed is set when the backend reported the call as unsuccessful.
	Failed bool
	Error  string
}

type ThinkingStarted struct {
	MessageID  string
	ThinkingID string
}

type ThinkingDelta struct {
	MessageID  string
	ThinkingID string
	Delta      string
}

type ThinkingCompleted struct {
	MessageID  string
	ThinkingID string
	Summary    string
}

type WorkflowStepStarted struct {
	MessageID string
	StepID    string
	Name      string
	StepType  string
}

type WorkflowStepCompleted struct {
	MessageID string
	StepID    string
	// Status defaults to completed when empty.
	Status WorkflowStepStatus
}

func (RequestStarted) Type() ActionType             { return ActionRequestStarted }
func (MetadataReceived) Type() ActionType           { return ActionMetadataReceived }
func (StopAllRequests) Type() ActionType            { return ActionStopAllRequests }
func (RequestFailed) Type() ActionType              { return ActionRequestFailed }
func (RequestStopped) Type() ActionType             { return ActionRequestStopped }
func (MessageDelta) Type() ActionType               { return ActionMessageDelta }
func (MessageComplete) Type() ActionType            { return ActionMessageComplete }
func (RetrievalsReceived) Type() ActionType         { return ActionRetrievalsReceived }
func (RequestIDReceived) Type() ActionType          { return ActionRequestIDReceived }
func (QueryReformulationReceived) Type() ActionType { return ActionQueryReformulationReceived }
func (StageChanged) Type() ActionType               { return ActionStageChanged }
func (ToolCallCreated) Type() ActionType            { return ActionToolCallCreated }
func (ToolExecutionStarted) Type() ActionType       { return ActionToolExecutionStarted }
func (ToolCallCompleted) Type() ActionType          { return ActionToolCallCompleted }
func (ThinkingStarted) Type() ActionType            { return ActionThinkingStarted }
func (ThinkingDelta) Type() ActionType              { return ActionThinkingDelta }
func (ThinkingCompleted) Type() ActionType          { return ActionThinkingCompleted }
func (WorkflowStepStarted) Type() ActionType        { return ActionWorkflowStepStarted }
func (WorkflowStepCompleted) Type() ActionType      { return ActionWorkflowStepCompleted }

func (a RequestFailed) Message() string              { return a.MessageID }
func (a RequestStopped) Message() string             { return a.MessageID }
func (a MessageDelta) Message() string               { return a.MessageID }
func (a MessageComplete) Message() string            { return a.MessageID }
func (a RetrievalsReceived) Message() string         { return a.MessageID }
func (a RequestIDReceived) Message() string          { return a.MessageID }
func (a QueryReformulationReceived) Message() string { return a.MessageID }
func (a StageChanged) Message() string               { return a.MessageID }
func (a ToolCallCreated) Message() string            { return a.MessageID }
func (a ToolExecutionStarted) Message() string       { return a.MessageID }
func (a ToolCallCompleted) Message() string          { return a.MessageID }
func (a ThinkingStarted) Message() string            { return a.MessageID }
func (a ThinkingDelta) Message() string              { return a.MessageID }
func (a ThinkingCompleted) Message() string          { return a.MessageID }
func (a WorkflowStepStarted) Message() string        { return a.MessageID }
func (a WorkflowStepCompleted) Message() string      { return a.MessageID }
