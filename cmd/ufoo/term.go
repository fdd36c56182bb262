package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const (
	bell = "\x07"
	tag  = "[bus]"
)

// printer writes "[bus]"-prefixed status lines, colored on a terminal.
type printer struct {
	out   io.Writer
	color bool

	okStyle   lipgloss.Style
	infoStyle lipgloss.Style
	warnStyle lipgloss.Style
}

func newPrinter(cmd *cobra.Command) *printer {
	return &printer{
		out:       cmd.OutOrStdout(),
		color:     isTerminal(cmd.OutOrStdout()),
		okStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		infoStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		warnStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

func (p *printer) prefix(style lipgloss.Style) string {
	if !p.color {
		return tag
	}
	return style.Render(tag)
}

func (p *printer) OK(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.prefix(p.okStyle), fmt.Sprintf(format, args...))
}

func (p *printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.prefix(p.infoStyle), fmt.Sprintf(format, args...))
}

func (p *printer) Warn(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", p.prefix(p.warnStyle), fmt.Sprintf(format, args...))
}

// Println writes a plain line.
func (p *printer) Println(args ...any) {
	fmt.Fprintln(p.out, args...)
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// currentTTY returns the device path of stdin, or "" when stdin is not a
// terminal.
func currentTTY() string {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return ""
	}
	if target, err := os.Readlink("/proc/self/fd/0"); err == nil && filepath.IsAbs(target) {
		return target
	}
	if target, err := filepath.EvalSymlinks("/dev/stdin"); err == nil {
		return target
	}
	return ""
}

// setTitle writes an xterm title escape.
func setTitle(w io.Writer, title string) {
	fmt.Fprintf(w, "\x1b]0;%s\x07", title)
}
