package main

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// stderr receives progress and diagnostics so stdout stays clean for
// answers and --json output.
var stderr io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

type noticeKind struct {
	mark  string
	color string
}

var (
	noticeOK   = noticeKind{"✓", colorGreen}
	noticeErr  = noticeKind{"✗", colorRed}
	noticeWarn = noticeKind{"⚠", colorYellow}
	noticeStep = noticeKind{"→", colorCyan}
)

func notice(k noticeKind, format string, args ...any) {
	fmt.Fprintln(stderr, colorize(k.color, k.mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(noticeOK, format, args...) }
func printError(format string, args ...any)   { notice(noticeErr, format, args...) }
func printWarning(format string, args ...any) { notice(noticeWarn, format, args...) }
func printStep(format string, args ...any)    { notice(noticeStep, format, args...) }

// printStatus writes an indented "label: value" line.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// printTurn writes one chat message with a role label.
func printTurn(w io.Writer, role, content string) {
	color := colorCyan
	if role == "assistant" {
		color = colorGreen
	}
	fmt.Fprintf(w, "%s\n%s\n\n", colorize(color+colorBold, role), content)
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
