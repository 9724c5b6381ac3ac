package proxy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ErrorEvent is the payload of the SSE error event written when the upstream
// request fails.
type ErrorEvent struct {
	Status     int    `json:"status"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error_code,omitempty"`
	TraceStack string `json:"trace_stack,omitempty"`
}

// ErrorMapper turns a raw upstream error body and status into an ErrorEvent.
type ErrorMapper func(body string, status int) ErrorEvent

// DefaultMapErrorBody reads detail or message from a JSON error body, then
// falls back to the raw body and finally to a generic status message.
func DefaultMapErrorBody(body string, status int) ErrorEvent {
	var parsed any = body
	var decoded any
	if err := json.Unmarshal([]byte(body), &decoded); err == nil {
		parsed = decoded
	}

	message, ok := extractDetail(parsed)
	if !ok {
		if strings.TrimSpace(body) != "" {
			message = body
		} else {
			message = fmt.Sprintf("Request failed with status %d", status)
		}
	}

	ev := ErrorEvent{Status: status, Message: message}
	if obj, ok := parsed.(map[string]any); ok {
		ev.ErrorCode = nonEmptyString(obj["error_code"])
		ev.TraceStack = nonEmptyString(obj["trace_stack"])
	}
	return ev
}

func extractDetail(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return v, true
		}
	case map[string]any:
		if d, ok := v["detail"]; ok {
			return stringify(d)
		}
		if m, ok := v["message"]; ok {
			return stringify(m)
		}
	}
	return "", false
}

func stringify(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func nonEmptyString(v any) string {
	s, _ := v.(string)
	return s
}
