package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// NodeLogHandler wraps an slog.Handler and additionally appends records
// that carry a "node_id" attribute to a per-node log file. Batch launches
// interleave output from many guests; the per-node files keep each guest's
// history readable after the run. WithAttrs and WithGroup clones share
// the open files.
type NodeLogHandler struct {
	slog.Handler
	sink     *nodeLogSink
	preAttrs []slog.Attr // attrs bound via WithAttrs (needed to find "node_id")
}

type nodeLogSink struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

// NewNodeLogHandler creates a handler that wraps the given handler and
// tees node-related records into <dir>/node-<id>.log.
func NewNodeLogHandler(wrapped slog.Handler, dir string) *NodeLogHandler {
	return &NodeLogHandler{
		Handler: wrapped,
		sink:    &nodeLogSink{dir: dir, files: make(map[string]*os.File)},
	}
}

func (h *NodeLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}

	var nodeID string
	for _, a := range h.preAttrs {
		if a.Key == "node_id" {
			nodeID = a.Value.String()
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "node_id" {
			nodeID = a.Value.String()
			return false
		}
		return true
	})
	if nodeID == "" {
		return nil
	}

	f, err := h.sink.file(nodeID)
	if err != nil {
		// Per-node files are best effort; the wrapped handler already
		// received the record.
		return nil
	}
	line := fmt.Sprintf("%s %s %s", r.Time.Format(time.RFC3339), r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})
	_, _ = fmt.Fprintln(f, line)
	return nil
}

func (h *NodeLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &NodeLogHandler{
		Handler:  h.Handler.WithAttrs(attrs),
		sink:     h.sink,
		preAttrs: append(append([]slog.Attr{}, h.preAttrs...), attrs...),
	}
}

func (h *NodeLogHandler) WithGroup(name string) slog.Handler {
	return &NodeLogHandler{
		Handler:  h.Handler.WithGroup(name),
		sink:     h.sink,
		preAttrs: h.preAttrs,
	}
}

// Close closes all per-node log files.
func (h *NodeLogHandler) Close() error {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	for _, f := range h.sink.files {
		f.Close()
	}
	h.sink.files = make(map[string]*os.File)
	return nil
}

func (s *nodeLogSink) file(nodeID string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[nodeID]; ok {
		return f, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(s.dir, "node-"+nodeID+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s.files[nodeID] = f
	return f, nil
}
