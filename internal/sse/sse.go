// Package sse implements the event-stream framing used between the
// completion gateway and its consumers: one `data: <json>` line per
// event, a blank line after each, and a final `data: [DONE]` sentinel.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	prefix   = "data: "
	sentinel = "[DONE]"
)

type payload struct {
	Content *string `json:"content,omitempty"`
	Error   *string `json:"error,omitempty"`
}

// Writer emits event frames. Frames are flushed as they are written so
// fragment boundaries reach the consumer exactly as produced.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	done    bool
}

func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

func (w *Writer) write(data string) error {
	if w.done {
		return nil
	}
	if _, err := fmt.Fprintf(w.w, "%s%s\n\n", prefix, data); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

func (w *Writer) marshal(p payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return w.write(string(b))
}

// Content emits one text fragment.
func (w *Writer) Content(fragment string) error {
	return w.marshal(payload{Content: &fragment})
}

// Error emits an error frame. It does not terminate the stream; callers
// follow it with Done.
func (w *Writer) Error(msg string) error {
	return w.marshal(payload{Error: &msg})
}

// Done emits the termination sentinel. The writer refuses any frame
// after it, so the sentinel is always the last thing on the wire.
func (w *Writer) Done() error {
	if w.done {
		return nil
	}
	err := w.write(sentinel)
	w.done = true
	return err
}

// Event is one decoded frame.
type Event struct {
	Content string
	Err     string
	Done    bool
}

// Scanner decodes event frames from a stream. Lines that are not
// data frames (blank separators, comments) are skipped.
type Scanner struct {
	sc *bufio.Scanner
}

func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)
	return &Scanner{sc: sc}
}

// Next returns the next event, or io.EOF when the stream ends without
// a sentinel.
func (s *Scanner) Next() (Event, error) {
	for s.sc.Scan() {
		line := strings.TrimSpace(s.sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == sentinel {
			return Event{Done: true}, nil
		}
		var p payload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return Event{}, err
		}
		if p.Error != nil {
			return Event{Err: *p.Error}, nil
		}
		if p.Content != nil {
			return Event{Content: *p.Content}, nil
		}
		// unknown frame shape; skip
	}
	if err := s.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
