package logging

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultDedupWindow is used when NewDedupHandler gets a non-positive window.
const DefaultDedupWindow = 10 * time.Second

// maxDedupEntries bounds the number of distinct records tracked at once.
const maxDedupEntries = 1024

// DedupHandler drops records identical to one already written within the
// window. The next copy written after the window carries a "suppressed"
// attribute with the number of dropped copies. Reconnect loops that fail the
// same way every few seconds log once per window instead of once per attempt.
//
// Records are identical when level, message, attributes and the attributes or
// groups added through WithAttrs and WithGroup all match. Time is ignored.
type DedupHandler struct {
	handler slog.Handler
	scope   uint64
	state   *dedupState
}

type dedupState struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[uint64]*dedupEntry
	closed  bool
}

type dedupEntry struct {
	first      time.Time
	suppressed int
	record     slog.Record
	handler    slog.Handler
}

// NewDedupHandler wraps handler.
func NewDedupHandler(handler slog.Handler, window time.Duration) *DedupHandler {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupHandler{
		handler: handler,
		state: &dedupState{
			window:  window,
			now:     time.Now,
			entries: make(map[uint64]*dedupEntry),
		},
	}
}

func (h *DedupHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *DedupHandler) Handle(ctx context.Context, r slog.Record) error {
	key := h.hashRecord(r)
	s := h.state

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return h.handler.Handle(ctx, r)
	}
	now := s.now()
	entry, ok := s.entries[key]
	if ok && now.Sub(entry.first) < s.window {
		entry.suppressed++
		s.mu.Unlock()
		return nil
	}
	suppressed := 0
	if ok {
		suppressed = entry.suppressed
	}
	s.entries[key] = &dedupEntry{first: now, record: r.Clone(), handler: h.handler}
	if len(s.entries) > maxDedupEntries {
		s.prune(now)
	}
	s.mu.Unlock()

	if suppressed > 0 {
		r = r.Clone()
		r.AddAttrs(slog.Int("suppressed", suppressed))
	}
	return h.handler.Handle(ctx, r)
}

// prune drops entries whose window has passed. Must be called with mu held.
func (s *dedupState) prune(now time.Time) {
	for key, e := range s.entries {
		if now.Sub(e.first) >= s.window && e.suppressed == 0 {
			delete(s.entries, key)
		}
	}
}

func (h *DedupHandler) hashRecord(r slog.Record) uint64 {
	d := xxhash.New()
	var scope [8]byte
	for i := range scope {
		scope[i] = byte(h.scope >> (8 * i))
	}
	_, _ = d.Write(scope[:])
	_, _ = d.WriteString(r.Level.String())
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		_, _ = d.WriteString("|")
		_, _ = d.WriteString(a.Key)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(a.Value.String())
		return true
	})
	return d.Sum64()
}

func (h *DedupHandler) derive(handler slog.Handler, parts ...string) *DedupHandler {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatUint(h.scope, 16))
	for _, p := range parts {
		_, _ = d.WriteString("|")
		_, _ = d.WriteString(p)
	}
	return &DedupHandler{handler: handler, scope: d.Sum64(), state: h.state}
}

func (h *DedupHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		parts = append(parts, a.String())
	}
	return h.derive(h.handler.WithAttrs(attrs), parts...)
}

func (h *DedupHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(h.handler.WithGroup(name), "group:"+name)
}

// Close writes a final copy of every record that still has suppressed
// duplicates. Records handled after Close pass straight through.
func (h *DedupHandler) Close() error {
	s := h.state
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := make([]*dedupEntry, 0)
	for _, e := range s.entries {
		if e.suppressed > 0 {
			pending = append(pending, e)
		}
	}
	s.entries = nil
	s.mu.Unlock()

	for _, e := range pending {
		r := slog.NewRecord(s.now(), e.record.Level, e.record.Message, e.record.PC)
		e.record.Attrs(func(a slog.Attr) bool {
			r.AddAttrs(a)
			return true
		})
		r.AddAttrs(slog.Int("suppressed", e.suppressed))
		_ = e.handler.Handle(context.Background(), r)
	}
	return nil
}
