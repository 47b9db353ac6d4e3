package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Handler is a compact slog handler: time, colored level, message, then key=value attributes.
type Handler struct {
	out      io.Writer
	mu       *sync.Mutex
	level    slog.Leveler
	colorize bool
	attrs    []slog.Attr
	group    string
}

func NewHandler(out io.Writer, level slog.Leveler, colorize bool) *Handler {
	return &Handler{out: out, mu: &sync.Mutex{}, level: level, colorize: colorize}
}

// New returns a logger writing through Handler.
func New(out io.Writer, level slog.Leveler, colorize bool) *slog.Logger {
	return slog.New(NewHandler(out, level, colorize))
}

// ParseLevel maps debug|info|warn|error to a level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	switch {
	case r.Level >= slog.LevelError:
		level = h.paint(color.FgRed, level)
	case r.Level >= slog.LevelWarn:
		level = h.paint(color.FgYellow, level)
	case r.Level >= slog.LevelInfo:
		level = h.paint(color.FgHiBlue, level)
	default:
		level = h.paint(color.FgMagenta, level)
	}

	var b strings.Builder
	b.WriteString(r.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		h.writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func (h *Handler) writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, inner := range a.Value.Group() {
			h.writeAttr(b, key, inner)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(h.paint(color.FgGreen, key))
	b.WriteByte('=')
	fmt.Fprint(b, a.Value.Any())
}

func (h *Handler) paint(attr color.Attribute, s string) string {
	if !h.colorize {
		return s
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}
