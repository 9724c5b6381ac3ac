package oryx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Payload is the normalized field set of one stream event. Values are kept as
// raw JSON so each event type can validate its own shape.
type Payload map[string]json.RawMessage

// Issue is a single field-level validation failure.
type Issue struct {
	Path    string
	Message string
}

// ValidationError reports every field that failed validation for a payload.
type ValidationError struct {
	Subject string
	Issues  []Issue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Subject, strings.Join(e.Messages(), ", "))
}

// Messages returns one "path: message" string per issue.
func (e *ValidationError) Messages() []string {
	out := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.Path == "" {
			out = append(out, issue.Message)
			continue
		}
		out = append(out, issue.Path+": "+issue.Message)
	}
	return out
}

// fieldReader pulls typed fields out of a Payload and accumulates issues
// instead of failing on the first one.
type fieldReader struct {
	fields Payload
	prefix string
	issues []Issue
}

func newFieldReader(fields Payload) *fieldReader {
	return &fieldReader{fields: fields}
}

func (r *fieldReader) fail(key, format string, args ...any) {
	path := key
	switch {
	case r.prefix != "" && key == "":
		path = r.prefix
	case r.prefix != "":
		path = r.prefix + "." + key
	}
	r.issues = append(r.issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// lookup returns the raw value for key; absent and JSON null both report false.
func (r *fieldReader) lookup(key string) (json.RawMessage, bool) {
	raw, ok := r.fields[key]
	if !ok || isNull(raw) {
		return nil, false
	}
	return raw, true
}

func (r *fieldReader) str(key string) string {
	raw, ok := r.lookup(key)
	if !ok {
		r.fail(key, "required")
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		r.fail(key, "expected string")
	}
	return s
}

func (r *fieldReader) optStr(key string) string {
	raw, ok := r.lookup(key)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		r.fail(key, "expected string")
	}
	return s
}

func (r *fieldReader) boolean(key string) bool {
	raw, ok := r.lookup(key)
	if !ok {
		r.fail(key, "required")
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		r.fail(key, "expected boolean")
	}
	return b
}

func (r *fieldReader) integer(key string) int {
	raw, ok := r.lookup(key)
	if !ok {
		r.fail(key, "required")
		return 0
	}
	return r.decodeInt(key, raw)
}

// optInt returns nil when the field is absent or null.
func (r *fieldReader) optInt(key string) *int {
	raw, ok := r.lookup(key)
	if !ok {
		return nil
	}
	n := r.decodeInt(key, raw)
	return &n
}

func (r *fieldReader) decodeInt(key string, raw json.RawMessage) int {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		r.fail(key, "expected number")
		return 0
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		r.fail(key, "expected integer")
		return 0
	}
	return int(f)
}

// object returns the nested object under key, or nil when absent or null.
func (r *fieldReader) object(key string) Payload {
	raw, ok := r.lookup(key)
	if !ok {
		return nil
	}
	var obj Payload
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		r.fail(key, "expected object")
		return nil
	}
	return obj
}

func (r *fieldReader) oneOf(key, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	r.fail(key, "expected one of %s, got %q", strings.Join(allowed, "|"), value)
}

func (r *fieldReader) err(subject string) error {
	if len(r.issues) == 0 {
		return nil
	}
	return &ValidationError{Subject: subject, Issues: r.issues}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// scalar decodes a metadata value restricted to string, number, bool or null.
func scalar(raw json.RawMessage) (any, bool) {
	if isNull(raw) {
		return nil, true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case string, float64, bool:
		return v, true
	default:
		return nil, false
	}
}
