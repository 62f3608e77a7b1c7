package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"
	"unicode"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
	ansiGray   = "\x1b[90m"
)

// ConsoleOptions configures a ConsoleHandler.
type ConsoleOptions struct {
	// Level is the minimum level written. Nil means info.
	Level slog.Leveler
	// AddSource appends the caller's file:line to each line.
	AddSource bool
	// Color enables ANSI styling.
	Color bool
}

// ConsoleHandler writes one compact line per record for a terminal:
//
//	15:04:05.000 INF loaded engine variant=primary vocab=151936 (run.go:123)
//
// Handlers derived through WithAttrs and WithGroup share the writer lock.
type ConsoleHandler struct {
	opts   ConsoleOptions
	w      io.Writer
	mu     *sync.Mutex
	prefix string
	pre    []byte
}

func NewConsoleHandler(w io.Writer, opts *ConsoleOptions) *ConsoleHandler {
	h := &ConsoleHandler{w: w, mu: new(sync.Mutex)}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)

	if !r.Time.IsZero() {
		buf = h.style(buf, ansiGray)
		buf = r.Time.AppendFormat(buf, "15:04:05.000")
		buf = h.reset(buf)
		buf = append(buf, ' ')
	}

	tag, color := levelTag(r.Level)
	buf = h.style(buf, color+ansiBold)
	buf = append(buf, tag...)
	buf = h.reset(buf)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	buf = append(buf, h.pre...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.prefix, a)
		return true
	})

	if h.opts.AddSource && r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		buf = append(buf, ' ')
		buf = h.style(buf, ansiGray)
		buf = fmt.Appendf(buf, "(%s:%d)", filepath.Base(f.File), f.Line)
		buf = h.reset(buf)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

// WithAttrs renders attrs once so later records only copy bytes.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.pre = slices.Clip(h.pre)
	for _, a := range attrs {
		h2.pre = h2.appendAttr(h2.pre, h.prefix, a)
	}
	return &h2
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func (h *ConsoleHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, prefix, ga)
		}
		return buf
	}
	buf = append(buf, ' ')
	buf = h.style(buf, ansiCyan)
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = h.reset(buf)
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func (h *ConsoleHandler) style(buf []byte, code string) []byte {
	if !h.opts.Color {
		return buf
	}
	return append(buf, code...)
}

func (h *ConsoleHandler) reset(buf []byte) []byte {
	return h.style(buf, ansiReset)
}

func levelTag(level slog.Level) (tag, color string) {
	switch {
	case level >= slog.LevelError:
		return "ERR", ansiRed
	case level >= slog.LevelWarn:
		return "WRN", ansiYellow
	case level >= slog.LevelInfo:
		return "INF", ansiGreen
	default:
		return "DBG", ansiGray
	}
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendText(buf, v.String())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339Nano)
	}
	if err, ok := v.Any().(error); ok {
		return appendText(buf, err.Error())
	}
	return appendText(buf, fmt.Sprint(v.Any()))
}

func appendText(buf []byte, s string) []byte {
	if needsQuoting(s) {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

// needsQuoting reports whether s would be ambiguous as a bare key=value token.
func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r == '=' || r == '"' || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return true
		}
	}
	return false
}

// colorEnabled reports whether w is a character device and NO_COLOR is unset.
func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	st, err := f.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}
