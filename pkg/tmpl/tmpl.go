// Package tmpl provides template rendering for agent arguments and prompts.
package tmpl

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// shellQuote returns a shell-safe quoted string. It wraps the string in single
// quotes and escapes any existing single quotes using the '\" technique.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	// Replace ' with '\'' (end quote, escaped quote, start quote)
	escaped := strings.ReplaceAll(s, "'", `'\''`)
	return "'" + escaped + "'"
}

// indent prefixes every non-empty line of s with n spaces.
func indent(n int, s string) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = pad + l
		}
	}
	return strings.Join(lines, "\n")
}

var funcs = template.FuncMap{
	"shq":    shellQuote,
	"join":   strings.Join,
	"trim":   strings.TrimSpace,
	"lower":  strings.ToLower,
	"indent": indent,
	"inc":    func(i int) int { return i + 1 },
}

// Render executes a Go template string with the given data.
// Returns an error if the template is invalid or references undefined keys.
//
// Available template functions:
//   - shq: Shell-quote a string for safe use in shell commands
//   - join: Join string slice with separator (e.g., join .Args " ")
//   - trim, lower: strings.TrimSpace and strings.ToLower
//   - indent: Indent every non-empty line (e.g., indent 2 .Body)
//   - inc: Add one to an int, for 1-based numbering inside range
func Render(tmpl string, data any) (string, error) {
	t, err := Parse("", tmpl)
	if err != nil {
		return "", err
	}
	return Execute(t, data)
}

// Parse compiles a named template with the package functions and strict
// missing-key handling. Use it to validate templates at config load.
func Parse(name, tmpl string) (*template.Template, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}

// Execute runs a parsed template against data.
func Execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
