// Package printer writes styled status lines for CLI commands.
package printer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Printer writes human-facing output. Status lines go to the error writer so
// stdout stays parseable.
type Printer struct {
	out io.Writer
	err io.Writer
}

// New creates a printer.
func New(out, err io.Writer) *Printer {
	return &Printer{out: out, err: err}
}

type ctxKey struct{}

// NewContext attaches p to ctx.
func NewContext(ctx context.Context, p *Printer) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Ctx returns the printer attached to ctx, or one writing to stdout and
// stderr.
func Ctx(ctx context.Context) *Printer {
	if p, ok := ctx.Value(ctxKey{}).(*Printer); ok {
		return p
	}
	return New(os.Stdout, os.Stderr)
}

func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *Printer) Successf(format string, args ...any) {
	p.status(successStyle, "✔", format, args...)
}

func (p *Printer) Infof(format string, args ...any) {
	p.status(infoStyle, "•", format, args...)
}

func (p *Printer) Warnf(format string, args ...any) {
	p.status(warnStyle, "!", format, args...)
}

func (p *Printer) Errorf(format string, args ...any) {
	p.status(errorStyle, "✘", format, args...)
}

// Section prints a heading.
func (p *Printer) Section(title string) {
	_, _ = fmt.Fprintln(p.err, sectionStyle.Render(title))
}

// Muted renders s in the dim style.
func (p *Printer) Muted(s string) string {
	return mutedStyle.Render(s)
}

func (p *Printer) status(style lipgloss.Style, icon, format string, args ...any) {
	_, _ = fmt.Fprintf(p.err, "%s %s\n", style.Render(icon), fmt.Sprintf(format, args...))
}
