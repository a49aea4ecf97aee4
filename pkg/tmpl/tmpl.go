// Package tmpl compiles user-configured shell command templates.
package tmpl

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Quote wraps s in single quotes for POSIX shells. Embedded single quotes
// become '\''.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func orDefault(def string, v any) string {
	if s := fmt.Sprint(v); v != nil && s != "" {
		return s
	}
	return def
}

var funcs = template.FuncMap{
	"shq":     Quote,
	"upper":   strings.ToUpper,
	"lower":   strings.ToLower,
	"default": orDefault,
	"clock":   func(t time.Time) string { return t.Format("15:04") },
}

// Command is a parsed command template. Templates may use the functions
// shq, upper, lower, default and clock. Referencing a missing map key is an
// error.
type Command struct {
	src string
	t   *template.Template
}

// Parse compiles src.
func Parse(src string) (*Command, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty template")
	}
	t, err := template.New("cmd").Funcs(funcs).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Command{src: src, t: t}, nil
}

// String returns the template source.
func (c *Command) String() string { return c.src }

// Render executes the template against data.
func (c *Command) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := c.t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %q: %w", c.src, err)
	}
	return buf.String(), nil
}

// Check parses src and renders it against sample data.
func Check(src string, sample any) error {
	c, err := Parse(src)
	if err != nil {
		return err
	}
	_, err = c.Render(sample)
	return err
}
