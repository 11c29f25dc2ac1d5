package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// statusKind selects the tag and color a status line is rendered with.
type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusIndent     = "  "
	statusLabelWidth = 20
)

var statusKindStyles = map[statusKind]struct {
	label string
	color string
}{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

// renderStatusLine formats one aligned "Label: [KIND] message" line, wrapped
// in the kind's color when colorize is set.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	style := statusKindStyles[kind]
	tag := "[" + style.label + "]"
	if message != "" {
		tag += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", tag)
	if colorize && style.color != "" {
		return style.color + line + ansiReset
	}
	return line
}

// renderSectionHeader returns the section title plus an underline of
// matching width.
func renderSectionHeader(title string, colorize bool) []string {
	header := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(header))
	if colorize {
		header = ansiBlue + header + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{header, rule}
}

// shouldColorize enables ANSI output only when writing to a real terminal.
func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
