// Package preview loads the metadata behind a retrieval citation: the page
// image and text a user sees when opening a source.
package preview

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/papercomputeco/oryx/pkg/oryx"
)

// Metadata describes the content behind one retrieval.
type Metadata struct {
	Page        int    `json:"page"`
	PageImage   string `json:"page_img"`
	ContentID   string `json:"content_id"`
	DocumentID  string `json:"document_id"`
	ContentType string `json:"content_type"`
	ContentText string `json:"content_text"`
}

// ContentTypeUnstructured is the only content type the backend emits today.
// Other values are accepted.
const ContentTypeUnstructured = "unstructured"

// PageImageBytes decodes the base64 page image.
func (m Metadata) PageImageBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.PageImage)
}

// ParseMetadata validates raw against the preview metadata shape. Failures
// are reported as *oryx.ValidationError.
func ParseMetadata(raw []byte) (Metadata, error) {
	var in map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil || in == nil {
		return Metadata{}, &oryx.ValidationError{
			Subject: "preview metadata",
			Issues:  []oryx.Issue{{Message: "expected object"}},
		}
	}

	var issues []oryx.Issue
	fail := func(path, msg string) {
		issues = append(issues, oryx.Issue{Path: path, Message: msg})
	}
	str := func(key string) (string, bool) {
		v, ok := in[key]
		if !ok || v == nil {
			fail(key, "required")
			return "", false
		}
		s, ok := v.(string)
		if !ok {
			fail(key, "expected string")
		}
		return s, ok
	}

	var out Metadata
	switch n := in["page"].(type) {
	case nil:
		fail("page", "required")
	case json.Number:
		page, err := n.Int64()
		if err != nil {
			fail("page", "expected integer")
		}
		out.Page = int(page)
	default:
		fail("page", "expected integer")
	}

	var ok bool
	if out.PageImage, ok = str("page_img"); ok {
		if _, err := base64.StdEncoding.DecodeString(out.PageImage); err != nil {
			fail("page_img", "expected base64")
		}
	}
	if out.ContentID, ok = str("content_id"); ok {
		if _, err := uuid.Parse(out.ContentID); err != nil {
			fail("content_id", "invalid uuid")
		}
	}
	if out.DocumentID, ok = str("document_id"); ok {
		if _, err := uuid.Parse(out.DocumentID); err != nil {
			fail("document_id", "invalid uuid")
		}
	}
	out.ContentType, _ = str("content_type")
	out.ContentText, _ = str("content_text")

	if len(issues) > 0 {
		return Metadata{}, &oryx.ValidationError{Subject: "preview metadata", Issues: issues}
	}
	return out, nil
}
