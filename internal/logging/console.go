package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const consoleTimeLayout = "2006-01-02 15:04:05"

// consoleHandler writes one human-readable line per record:
//
//	2024-03-01 10:00:00 INFO [workflow] jan.csv (normalize) – stage completed rows=12
//
// component, file and stage are lifted out of the attribute list into the
// line header; everything else trails as key=value pairs.
type consoleHandler struct {
	out    *syncWriter
	level  slog.Leveler
	source bool
	preset []field
	prefix string
}

type field struct {
	key   string
	value slog.Value
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(p)
	return err
}

func newConsoleHandler(w io.Writer, level slog.Leveler, source bool) *consoleHandler {
	return &consoleHandler{out: &syncWriter{w: w}, level: level, source: source}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = appendFields(append([]field(nil), h.preset...), h.prefix, attrs)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]field, len(h.preset), len(h.preset)+r.NumAttrs())
	copy(fields, h.preset)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendFields(fields, h.prefix, []slog.Attr{a})
		return true
	})

	var hdr lineHeader
	rest := fields[:0]
	for _, f := range fields {
		if !hdr.take(f) {
			rest = append(rest, f)
		}
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	line := make([]byte, 0, 128+24*len(rest))
	line = ts.In(time.Local).AppendFormat(line, consoleTimeLayout)
	line = append(line, ' ')
	line = append(line, levelName(r.Level)...)
	if hdr.component != "" {
		line = append(line, " ["+hdr.component+"]"...)
	}
	if subject := hdr.subject(); subject != "" {
		line = append(line, ' ')
		line = append(line, subject...)
	}
	line = append(line, " – "...)
	if msg := strings.TrimSpace(r.Message); msg != "" {
		line = append(line, msg...)
	} else {
		line = append(line, "(no message)"...)
	}
	if h.source && r.PC != 0 {
		if src := r.Source(); src != nil {
			line = append(line, " ["+filepath.Base(src.File)+":"...)
			line = strconv.AppendInt(line, int64(src.Line), 10)
			line = append(line, ']')
		}
	}
	for _, f := range rest {
		line = append(line, ' ')
		line = append(line, f.key...)
		line = append(line, '=')
		line = appendValue(line, f.value)
	}
	line = append(line, '\n')
	return h.out.write(line)
}

type lineHeader struct {
	component string
	file      string
	stage     string
}

// take consumes f when it belongs in the header. The first value seen wins.
func (hdr *lineHeader) take(f field) bool {
	var slot *string
	switch f.key {
	case FieldComponent:
		slot = &hdr.component
	case FieldFile:
		slot = &hdr.file
	case FieldStage:
		slot = &hdr.stage
	default:
		return false
	}
	if *slot == "" {
		*slot = strings.TrimSpace(plainString(f.value))
	}
	return true
}

func (hdr lineHeader) subject() string {
	switch {
	case hdr.file != "" && hdr.stage != "":
		return hdr.file + " (" + hdr.stage + ")"
	case hdr.file != "":
		return hdr.file
	default:
		return hdr.stage
	}
}

func appendFields(dst []field, prefix string, attrs []slog.Attr) []field {
	for _, a := range attrs {
		if a.Equal(slog.Attr{}) {
			continue
		}
		v := a.Value.Resolve()
		if v.Kind() == slog.KindGroup {
			inner := prefix
			if a.Key != "" {
				inner = prefix + a.Key + "."
			}
			dst = appendFields(dst, inner, v.Group())
			continue
		}
		if a.Key == "" {
			continue
		}
		dst = append(dst, field{key: prefix + a.Key, value: v})
	}
	return dst
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}

// plainString renders v without quoting, for header slots.
func plainString(v slog.Value) string {
	if v.Kind() == slog.KindAny {
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	}
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return string(appendValue(nil, v))
}

func appendValue(dst []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindBool:
		return strconv.AppendBool(dst, v.Bool())
	case slog.KindInt64:
		return strconv.AppendInt(dst, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(dst, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(dst, v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return append(dst, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().In(time.Local).AppendFormat(dst, consoleTimeLayout)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return appendMaybeQuoted(dst, err.Error())
		}
		return appendMaybeQuoted(dst, fmt.Sprint(v.Any()))
	}
	return appendMaybeQuoted(dst, v.String())
}

func appendMaybeQuoted(dst []byte, s string) []byte {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.AppendQuote(dst, s)
	}
	return append(dst, s...)
}
