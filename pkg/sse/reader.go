package sse

import (
	"bufio"
	"io"
	"strings"
)

const (
	initialBufferSize = 64 * 1024
	maxLineSize       = 1024 * 1024
)

// Reader parses SSE events from a byte stream. When created with
// NewTeeReader every raw line is also copied to a destination writer before
// it is parsed, so a proxy can forward the stream verbatim while inspecting it.
//
//	src ──▶ Reader.Next ──▶ Event
//	            │
//	            └──▶ dest (exact copy)
type Reader struct {
	scanner *bufio.Scanner
	dest    io.Writer

	current     Event
	data        []string
	hasFields   bool
	lastEventID string
}

// NewReader returns a Reader over src.
func NewReader(src io.Reader) *Reader {
	return NewTeeReader(src, nil)
}

// NewTeeReader returns a Reader over src that copies every line to dest.
// A nil dest disables the copy.
func NewTeeReader(src io.Reader, dest io.Writer) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, initialBufferSize), maxLineSize)

	return &Reader{
		scanner: scanner,
		dest:    dest,
	}
}

// Next blocks until a complete event is read. It returns nil, nil once src
// is exhausted. An event still open at end of input is returned as is.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()

		if r.dest != nil {
			// Scanner drops the line terminator; put it back for the copy.
			if _, err := io.WriteString(r.dest, line+"\n"); err != nil {
				return nil, err
			}
		}

		if line == "" {
			if ev := r.flush(); ev != nil {
				return ev, nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}
		r.parseLine(line)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return r.flush(), nil
}

// LastEventID returns the most recent "id:" value seen on the stream.
func (r *Reader) LastEventID() string {
	return r.lastEventID
}

func (r *Reader) parseLine(line string) {
	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "data":
		r.data = append(r.data, value)
	case "event":
		r.current.Type = value
	case "id":
		if strings.ContainsRune(value, 0) {
			return
		}
		r.current.ID = value
		r.lastEventID = value
	default:
		// retry and unknown fields carry nothing for a one-shot stream.
		return
	}
	r.hasFields = true
}

// flush returns the pending event, or nil when no field has been seen since
// the last dispatch.
func (r *Reader) flush() *Event {
	if !r.hasFields {
		return nil
	}
	ev := r.current
	ev.Data = strings.Join(r.data, "\n")

	r.current = Event{}
	r.data = r.data[:0]
	r.hasFields = false
	return &ev
}
