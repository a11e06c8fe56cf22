// Package logging builds the structured logger netsync.Host and its
// collaborators accept as a constructor argument. It is adapted from the
// teacher's pkg/utils/logging.PrettyHandler: same colorized single-line
// slog.Handler shape, trimmed to the options this module actually varies
// (no grouping/compact-JSON toggles the host never sets), and handed out
// via a constructor rather than installed as slog's process-wide
// default, so embedding applications keep control of their own root
// logger (DESIGN.md: no package-level mutable singleton for logging).
package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Options configures a Handler.
type Options struct {
	Level      slog.Level
	UseColor   bool
	ShowSource bool
	TimeFormat string
}

// DefaultOptions returns the out-of-the-box options.
func DefaultOptions() Options {
	return Options{
		Level:      slog.LevelInfo,
		UseColor:   true,
		ShowSource: false,
		TimeFormat: time.RFC3339,
	}
}

// Handler is a single-line, colorized slog.Handler meant for local
// development and the cmd/netsyncd demo driver.
type Handler struct {
	opts   Options
	writer io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr

	colorTime    func(...any) string
	colorLevel   map[slog.Level]func(...any) string
	colorMessage func(...any) string
	colorSource  func(...any) string
	colorFields  func(...any) string
}

// NewHandler constructs a Handler writing to w.
func NewHandler(w io.Writer, opts Options) *Handler {
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.RFC3339
	}
	h := &Handler{opts: opts, writer: w, mu: &sync.Mutex{}}
	h.initColorFuncs()
	return h
}

// New builds a ready-to-use *slog.Logger backed by a Handler.
func New(w io.Writer, opts Options) *slog.Logger {
	return slog.New(NewHandler(w, opts))
}

func (h *Handler) initColorFuncs() {
	if !h.opts.UseColor {
		noColor := func(a ...any) string { return fmt.Sprint(a...) }
		h.colorTime, h.colorMessage, h.colorSource, h.colorFields = noColor, noColor, noColor, noColor
		h.colorLevel = map[slog.Level]func(...any) string{
			slog.LevelDebug: noColor, slog.LevelInfo: noColor, slog.LevelWarn: noColor, slog.LevelError: noColor,
		}
		return
	}

	h.colorTime = color.New(color.FgHiBlack).SprintFunc()
	h.colorMessage = color.New(color.FgCyan).SprintFunc()
	h.colorSource = color.New(color.FgHiBlack).SprintFunc()
	h.colorFields = color.New(color.FgWhite).SprintFunc()
	h.colorLevel = map[slog.Level]func(...any) string{
		slog.LevelDebug: color.New(color.FgMagenta).SprintFunc(),
		slog.LevelInfo:  color.New(color.FgBlue).SprintFunc(),
		slog.LevelWarn:  color.New(color.FgYellow).SprintFunc(),
		slog.LevelError: color.New(color.FgRed).SprintFunc(),
	}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	h.mu.Lock()
	defer h.mu.Unlock()

	buf.WriteString(h.colorTime(r.Time.Format(h.opts.TimeFormat)))
	buf.WriteString(" | ")
	buf.WriteString(h.colorFuncFor(r.Level)(fmt.Sprintf("%-5s", strings.ToUpper(r.Level.String()))))
	buf.WriteString(" | ")

	if h.opts.ShowSource && r.PC != 0 {
		if src := h.extractSource(r.PC); src != "" {
			buf.WriteString(h.colorSource(src))
			buf.WriteString(" | ")
		}
	}

	buf.WriteString(h.colorMessage(r.Message))

	fields := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields = append(fields, fmt.Sprintf("%s=%v", a.Key, a.Value.Resolve().Any()))
	}
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, fmt.Sprintf("%s=%v", a.Key, a.Value.Resolve().Any()))
		return true
	})
	if len(fields) > 0 {
		buf.WriteString(" | ")
		buf.WriteString(h.colorFields(strings.Join(fields, " ")))
	}

	buf.WriteByte('\n')
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *Handler) colorFuncFor(level slog.Level) func(...any) string {
	if f, ok := h.colorLevel[level]; ok {
		return f
	}
	return h.colorMessage
}

func (h *Handler) extractSource(pc uintptr) string {
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	nh := &Handler{opts: h.opts, writer: h.writer, mu: &sync.Mutex{}, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
	nh.initColorFuncs()
	return nh
}

// WithGroup implements slog.Handler. Grouping isn't surfaced in the
// single-line output; it is accepted so callers composing this handler
// with slog.Logger.WithGroup don't panic, but it is a no-op.
func (h *Handler) WithGroup(_ string) slog.Handler {
	return h
}
