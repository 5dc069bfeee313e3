package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// SanitizingHandler redacts secrets from the message and from every string,
// error and map attribute before passing the record on.
type SanitizingHandler struct {
	next      slog.Handler
	sanitizer *Sanitizer
}

// NewSanitizingHandler creates a new sanitizing handler.
func NewSanitizingHandler(next slog.Handler, sanitizer *Sanitizer) *SanitizingHandler {
	return &SanitizingHandler{next: next, sanitizer: sanitizer}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, h.sanitizer.Sanitize(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.redact(a))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SanitizingHandler{next: h.next.WithAttrs(h.redactAll(attrs)), sanitizer: h.sanitizer}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name), sanitizer: h.sanitizer}
}

func (h *SanitizingHandler) redactAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = h.redact(a)
	}
	return out
}

func (h *SanitizingHandler) redact(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.sanitizer.Sanitize(v.String()))
	case slog.KindGroup:
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(h.redactAll(v.Group())...)}
	case slog.KindAny:
		switch val := v.Any().(type) {
		case error:
			if val != nil {
				return slog.String(a.Key, h.sanitizer.Sanitize(val.Error()))
			}
		case map[string]interface{}:
			return slog.Any(a.Key, h.sanitizer.SanitizeMap(val))
		case fmt.Stringer:
			return slog.String(a.Key, h.sanitizer.Sanitize(val.String()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

// PrettyHandler writes compact colored lines for a terminal:
//
//	15:04:05 INF [reconcile] run_abc run started remote_handle=conv-1
//
// The component and run_id attributes are hoisted in front of the message.
type PrettyHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	component string
	runID     string
	attrs     []slog.Attr
	groups    []string
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// NewPrettyHandler creates a new pretty handler.
func NewPrettyHandler(w io.Writer, level slog.Leveler) *PrettyHandler {
	return &PrettyHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	component, runID := h.component, h.runID
	var tail strings.Builder
	for _, a := range h.attrs {
		tail.WriteString(formatAttr(a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		switch {
		case len(h.groups) == 0 && a.Key == "component":
			component = a.Value.String()
		case len(h.groups) == 0 && a.Key == "run_id":
			runID = a.Value.String()
		default:
			q := h.qualify(a)
			tail.WriteString(formatAttr(q.Key, q.Value))
		}
		return true
	})

	var line strings.Builder
	line.WriteString(r.Time.Format("15:04:05"))
	line.WriteByte(' ')
	line.WriteString(formatLevel(r.Level))
	if component != "" {
		fmt.Fprintf(&line, " %s[%s]%s", colorGray, component, colorReset)
	}
	if runID != "" {
		fmt.Fprintf(&line, " %s%s%s", colorCyan, runID, colorReset)
	}
	line.WriteByte(' ')
	line.WriteString(r.Message)
	line.WriteString(tail.String())
	line.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line.String())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		switch {
		case len(h.groups) == 0 && a.Key == "component":
			next.component = a.Value.String()
		case len(h.groups) == 0 && a.Key == "run_id":
			next.runID = a.Value.String()
		default:
			next.attrs = append(next.attrs, h.qualify(a))
		}
	}
	return &next
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

// qualify prefixes the key with the open groups so attrs bound before a
// later WithGroup keep their original path.
func (h *PrettyHandler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	return slog.Attr{Key: strings.Join(h.groups, ".") + "." + a.Key, Value: a.Value}
}

func formatLevel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed + "ERR" + colorReset
	case level >= slog.LevelWarn:
		return colorYellow + "WRN" + colorReset
	case level >= slog.LevelInfo:
		return colorBlue + "INF" + colorReset
	default:
		return colorGray + "DBG" + colorReset
	}
}

func formatAttr(key string, value slog.Value) string {
	v := value.Resolve()
	if v.Kind() == slog.KindGroup {
		var b strings.Builder
		for _, attr := range v.Group() {
			b.WriteString(formatAttr(key+"."+attr.Key, attr.Value))
		}
		return b.String()
	}
	if key == "" {
		return ""
	}
	return fmt.Sprintf(" %s%s%s=%v", colorCyan, key, colorReset, v.Any())
}
