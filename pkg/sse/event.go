// Package sse reads and writes Server-Sent Events as used by the oryx agent
// stream. The Reader parses events from an upstream body and can tee the raw
// bytes to a downstream writer. Write and WriteComment frame events for
// handlers that originate a stream themselves.
//
// See https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import (
	"fmt"
	"io"
	"strings"
)

// Event is one SSE event, delimited by a blank line on the wire.
type Event struct {
	// Type comes from the "event:" field. Empty means "message".
	Type string

	// Data holds every "data:" line of the event joined with "\n".
	Data string

	// ID comes from the "id:" field.
	ID string
}

// Write frames ev onto w. Multi-line data is split into one "data:" field per
// line so a Reader reassembles it unchanged.
func Write(w io.Writer, ev Event) error {
	var b strings.Builder
	if ev.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	for line := range strings.SplitSeq(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteComment writes a comment line, typically a keep-alive ping.
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}
