package oryx

import (
	"encoding/json"
	"log/slog"

	"github.com/papercomputeco/oryx/pkg/logger"
)

// Mapper translates decoded stream events into reducer actions.
type Mapper struct {
	logger *slog.Logger
}

// NewMapper creates a Mapper. A nil logger discards output.
func NewMapper(l *slog.Logger) *Mapper {
	if l == nil {
		l = logger.Nop()
	}
	return &Mapper{logger: l}
}

// MapEvent returns the action for one content event addressed to messageID,
// or nil when the payload is invalid or the event carries no state change.
// Error events go through MapErrorEvent instead.
func (m *Mapper) MapEvent(eventType EventType, payload Payload, messageID string) Action {
	switch eventType {
	case EventRetrievals:
		retrievals := NormalizeRetrievals(payload, m.logger)
		if len(retrievals) == 0 {
			return nil
		}
		return RetrievalsReceived{MessageID: messageID, Retrievals: retrievals}

	case EventMessageDelta:
		delta, err := parseMessageDelta(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return MessageDelta{MessageID: messageID, Delta: delta}

	case EventMessageComplete:
		final, err := parseMessageComplete(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return MessageComplete{MessageID: messageID, Content: final}

	case EventMetadata:
		md, err := parseMetadata(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return MetadataReceived{
			ConversationID: md.ConversationID,
			RequestID:      md.RequestID,
			MessageID:      md.MessageID,
		}

	case EventRequestID:
		id, err := parseRequestID(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return RequestIDReceived{MessageID: messageID, RequestID: id}

	case EventQueryReformulation:
		q, err := parseQueryReformulation(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return QueryReformulationReceived{MessageID: messageID, ReformulatedQuery: q}

	case EventStepping:
		stage, err := parseStepping(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return StageChanged{MessageID: messageID, Stage: stage}

	case EventToolCallStart:
		tc, err := parseToolCallStart(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return ToolExecutionStarted{
			MessageID:  messageID,
			ToolCallID: tc.ToolID,
			ToolName:   tc.ToolName,
			Arguments:  decodeToolArgs(tc.ToolArgs),
		}

	case EventToolCallEnd:
		tc, err := parseToolCallEnd(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		out := ToolCallCompleted{
			MessageID:  messageID,
			ToolCallID: tc.ToolID,
			Output:     tc.ToolOutput,
			Failed:     !tc.Successful,
		}
		if !tc.Successful {
			out.Error = tc.Error
		}
		return out

	case EventThinkingStart:
		id, err := parseThinkingStart(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return ThinkingStarted{MessageID: messageID, ThinkingID: id}

	case EventThinkingDelta:
		td, err := parseThinkingDelta(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return ThinkingDelta{MessageID: messageID, ThinkingID: td.ThinkID, Delta: td.Delta}

	case EventThinkingEnd:
		te, err := parseThinkingEnd(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return ThinkingCompleted{MessageID: messageID, ThinkingID: te.ThinkID, Summary: te.Summary}

	case EventStepStart:
		ss, err := parseStepStart(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return WorkflowStepStarted{MessageID: messageID, StepID: ss.StepID, Name: ss.StepName, StepType: ss.StepType}

	case EventStepEnd:
		se, err := parseStepEnd(payload)
		if err != nil {
			return m.invalid(eventType, err)
		}
		return WorkflowStepCompleted{MessageID: messageID, StepID: se.StepID, Status: se.Status}

	case EventEnd:
		return RequestStopped{MessageID: messageID}
	}

	m.logger.Error("unhandled stream event type", "event", string(eventType))
	return nil
}

// MapErrorEvent maps a server error event to a RequestFailed action.
func (m *Mapper) MapErrorEvent(payload Payload, messageID string) Action {
	ep, err := parseErrorPayload(payload)
	if err != nil {
		return m.invalid(EventError, err)
	}
	return RequestFailed{
		MessageID: messageID,
		Error:     StreamingError{Message: ep.Message, Code: ep.ErrorCode},
	}
}

func (m *Mapper) invalid(eventType EventType, err error) Action {
	m.logger.Error("invalid stream event payload", "event", string(eventType), "error", err)
	return nil
}

// decodeToolArgs parses the JSON-encoded tool arguments. Anything that is
// not a JSON object is kept verbatim under "raw".
func decodeToolArgs(s string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil || args == nil {
		return map[string]any{"raw": s}
	}
	return args
}
