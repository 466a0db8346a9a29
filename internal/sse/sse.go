// Package sse serves the resumable conversation event stream.
package sse

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Writer frames server-sent events onto an http response. Not safe for
// concurrent use; the stream handler is the only writer.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent emits one frame. Multi-line data is split across data: lines per
// the SSE grammar. Empty id and event fields are omitted.
func (sw *Writer) WriteEvent(id, event string, data []byte) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	if id != "" {
		b.WriteString("id: ")
		b.WriteString(id)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(sw.w, b.String()); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// WritePing emits a comment-style keepalive frame.
func (sw *Writer) WritePing() error {
	if _, err := io.WriteString(sw.w, "event: ping\ndata: {}\n\n"); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// PrepareHeaders sets the response headers every SSE endpoint needs.
func PrepareHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
