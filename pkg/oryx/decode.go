package oryx

import (
	"encoding/json"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/papercomputeco/oryx/pkg/logger"
)

// SSEMessage is one server-sent event as delivered by a Fetcher.
type SSEMessage struct {
	Data  string
	ID    string
	Event string
}

// StreamEvent is a decoded, type-checked event ready for mapping.
type StreamEvent struct {
	Type    EventType
	Payload Payload
}

// Decoder turns raw SSE payloads into StreamEvents. It never fails: anything
// it cannot use is logged and reported as nil.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a Decoder. A nil logger discards output.
func NewDecoder(l *slog.Logger) *Decoder {
	if l == nil {
		l = logger.Nop()
	}
	return &Decoder{logger: l}
}

// Decode normalizes msg into a StreamEvent. It returns nil for keep-alives,
// malformed JSON, unknown envelopes and event types outside the enumeration.
func (d *Decoder) Decode(msg SSEMessage) *StreamEvent {
	data := strings.TrimSpace(msg.Data)
	if data == "" || strings.HasPrefix(data, ": ping") {
		return nil
	}
	if !strings.HasPrefix(data, "{") {
		d.logger.Error("received non-JSON SSE message", "data", truncate(data, 200))
		return nil
	}

	var envelope Payload
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		d.logger.Error("failed to parse SSE JSON message", "error", err)
		return nil
	}

	rawType, fields, ok := d.unwrap(envelope)
	if !ok {
		return nil
	}

	var name string
	if err := json.Unmarshal(rawType, &name); err != nil || name == "" {
		d.logger.Warn("unsupported stream event type", "event", string(rawType))
		return nil
	}

	eventType := EventType(name)
	if !eventType.Supported() {
		if _, known := informationalEventTypes[name]; known {
			d.logger.Debug("ignoring informational stream event", "event", name)
			return nil
		}
		d.logger.Warn("unsupported stream event type", "event", name)
		return nil
	}

	if fields == nil {
		fields = Payload{}
	}
	return &StreamEvent{Type: eventType, Payload: fields}
}

// unwrap splits a versioned or legacy envelope into the raw event name and
// its payload fields.
//
//	versioned: {"version": "...", "event": {"type": "...", ...fields}}
//	legacy:    {"event": "...", "data": {...fields}}
func (d *Decoder) unwrap(envelope Payload) (json.RawMessage, Payload, bool) {
	if event, ok := versionedEvent(envelope); ok {
		rawType := event["type"]
		delete(event, "type")
		return rawType, event, true
	}

	var fields Payload
	if raw, ok := envelope["data"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			d.logger.Error("invalid legacy payload shape", "error", "data must be an object")
			return nil, nil, false
		}
	}
	return envelope["event"], fields, true
}

func versionedEvent(envelope Payload) (Payload, bool) {
	var version string
	rawVersion, ok := envelope["version"]
	if !ok || json.Unmarshal(rawVersion, &version) != nil {
		return nil, false
	}

	var event Payload
	rawEvent, ok := envelope["event"]
	if !ok || json.Unmarshal(rawEvent, &event) != nil || event == nil {
		return nil, false
	}

	var eventType string
	if json.Unmarshal(event["type"], &eventType) != nil {
		return nil, false
	}
	return event, true
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
