package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const ansiReset = "\x1b[0m"

var statusStyles = map[statusKind]struct {
	label string
	color string
}{
	statusInfo:  {label: "INFO", color: "\x1b[34m"},
	statusOK:    {label: "OK", color: "\x1b[32m"},
	statusWarn:  {label: "WARN", color: "\x1b[33m"},
	statusError: {label: "ERROR", color: "\x1b[31m"},
}

const statusLabelWidth = 18

// statusSheet accumulates aligned "label: value" lines grouped under section
// headers. Check lines carry a bracketed severity and are coloured on a TTY.
type statusSheet struct {
	colorize bool
	lines    []string
}

func newStatusSheet(w io.Writer) *statusSheet {
	return &statusSheet{colorize: isTerminal(w)}
}

func (s *statusSheet) section(title string) {
	line := "== " + strings.TrimSpace(title) + " =="
	s.lines = append(s.lines, s.paint(statusInfo, line))
}

func (s *statusSheet) value(label, value string) {
	s.lines = append(s.lines, formatSheetLine(label, value))
}

func (s *statusSheet) check(label string, kind statusKind, message string) {
	text := "[" + statusStyles[kind].label + "]"
	if message != "" {
		text += " " + message
	}
	s.lines = append(s.lines, s.paint(kind, formatSheetLine(label, text)))
}

func (s *statusSheet) String() string {
	return strings.Join(s.lines, "\n")
}

func (s *statusSheet) paint(kind statusKind, line string) string {
	if !s.colorize {
		return line
	}
	return statusStyles[kind].color + line + ansiReset
}

func formatSheetLine(label, value string) string {
	return fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", value)
}

// passFail maps a boolean check to OK or ERROR.
func passFail(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

// warnWhen maps a non-fatal condition to WARN, otherwise OK.
func warnWhen(bad bool) statusKind {
	if bad {
		return statusWarn
	}
	return statusOK
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
