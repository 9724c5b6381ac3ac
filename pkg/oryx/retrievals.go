package oryx

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// contextualMetadataKinds lists the typed keys of contextual_metadata. Other
// keys are accepted as long as they hold a scalar.
var contextualMetadataKinds = map[string]string{
	"document_title": "string",
	"section_title":  "string",
	"is_figure":      "bool",
	"file_name":      "string",
	"chunk_size":     "number",
	"file_format":    "string",
	"page":           "number",
	"chunk_id":       "string",
	"date_created":   "string",
	"section_id":     "string",
}

// NormalizeRetrievals projects the contents array of a retrievals payload
// into Retrievals. Any invalid item rejects the whole batch: the error is
// logged and nil is returned. Callers treat an empty result as "no change".
func NormalizeRetrievals(p Payload, l *slog.Logger) []Retrieval {
	out, err := parseRetrievals(p)
	if err != nil {
		if l != nil {
			l.Error("failed to parse retrieval contents", "error", err)
		}
		return nil
	}
	return out
}

func parseRetrievals(p Payload) ([]Retrieval, error) {
	raw, ok := p["contents"]
	if !ok || isNull(raw) {
		return nil, &ValidationError{Subject: "retrievals payload", Issues: []Issue{{Path: "contents", Message: "required"}}}
	}

	var items []Payload
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ValidationError{Subject: "retrievals payload", Issues: []Issue{{Path: "contents", Message: "expected array of objects"}}}
	}

	var issues []Issue
	out := make([]Retrieval, 0, len(items))
	for i, item := range items {
		r := &fieldReader{fields: item, prefix: fmt.Sprintf("contents[%d]", i)}
		retrieval := readRetrieval(r)
		issues = append(issues, r.issues...)
		out = append(out, retrieval)
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Subject: "retrievals payload", Issues: issues}
	}
	return out, nil
}

func readRetrieval(r *fieldReader) Retrieval {
	if r.fields == nil {
		r.fail("", "expected object")
		return Retrieval{}
	}

	number := r.integer("number")
	kind := r.str("type")
	if kind != "" {
		r.oneOf("type", kind, string(RetrievalFile))
	}

	ret := Retrieval{
		ContentID: r.str("content_id"),
		Number:    number,
		Type:      RetrievalKind(kind),
		Name:      r.str("doc_name"),
		Snippet:   r.optStr("content_text"),
	}

	extras := map[string]any{
		"documentId": r.str("doc_id"),
		"format":     r.str("format"),
	}
	if v := r.optStr("datastore_id"); v != "" {
		extras["datastoreId"] = v
	}
	if v := r.optInt("page"); v != nil {
		extras["page"] = *v
	}
	if v := r.optStr("url"); v != "" {
		extras["url"] = v
	}
	if m := readScalarMap(r, "custom_metadata", nil); m != nil {
		extras["customMetadata"] = m
	}
	if m := readScalarMap(r, "contextual_metadata", contextualMetadataKinds); m != nil {
		extras["contextualMetadata"] = m
	}
	ret.Extras = extras
	return ret
}

// readScalarMap decodes an optional object whose values must be scalars.
// kinds, when set, pins the scalar type of specific keys.
func readScalarMap(r *fieldReader, key string, kinds map[string]string) map[string]any {
	obj := r.object(key)
	if obj == nil {
		return nil
	}

	out := make(map[string]any, len(obj))
	for k, raw := range obj {
		v, ok := scalar(raw)
		if !ok {
			r.fail(key+"."+k, "expected string, number, boolean or null")
			continue
		}
		if want, typed := kinds[k]; typed && v != nil && !scalarIs(v, want) {
			r.fail(key+"."+k, "expected %s", want)
			continue
		}
		out[k] = v
	}
	return out
}

func scalarIs(v any, kind string) bool {
	switch v.(type) {
	case string:
		return kind == "string"
	case float64:
		return kind == "number"
	case bool:
		return kind == "bool"
	}
	return false
}
