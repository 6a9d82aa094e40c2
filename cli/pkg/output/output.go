// Package output renders CLI results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Writers used by every helper. Tests swap them for buffers.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// NoColor disables ANSI sequences. It starts true when NO_COLOR is set.
var NoColor = os.Getenv("NO_COLOR") != ""

const (
	green  = "32;1"
	red    = "31;1"
	cyan   = "36"
	yellow = "33"
	bold   = "1"
)

func paint(code, s string) string {
	if NoColor {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func Success(format string, a ...interface{}) {
	fmt.Fprintln(Stdout, paint(green, "✓ "+fmt.Sprintf(format, a...)))
}

func Error(format string, a ...interface{}) {
	fmt.Fprintln(Stderr, paint(red, "✗ "+fmt.Sprintf(format, a...)))
}

func Info(format string, a ...interface{}) {
	fmt.Fprintln(Stdout, paint(cyan, fmt.Sprintf(format, a...)))
}

func Warn(format string, a ...interface{}) {
	fmt.Fprintln(Stdout, paint(yellow, "⚠ "+fmt.Sprintf(format, a...)))
}

func JSON(v interface{}) error {
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func YAML(v interface{}) error {
	enc := yaml.NewEncoder(Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// Render prints v in format. table builds the table form and is used for
// "table" or an empty format.
func Render(format string, v interface{}, table func() *Table) error {
	switch format {
	case "json":
		return JSON(v)
	case "yaml":
		return YAML(v)
	case "", "table":
		table().Render()
		return nil
	default:
		return fmt.Errorf("unknown output format %q: use table, json or yaml", format)
	}
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{
		headers: headers,
		rows:    [][]string{},
	}
}

func (t *Table) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *Table) Render() {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, header := range t.headers {
		b.WriteString(paint(bold, fmt.Sprintf("%-*s", widths[i], header)))
		b.WriteString("  ")
	}
	fmt.Fprintln(Stdout, strings.TrimRight(b.String(), " "))

	b.Reset()
	for i := range t.headers {
		b.WriteString(strings.Repeat("-", widths[i]) + "  ")
	}
	fmt.Fprintln(Stdout, strings.TrimRight(b.String(), " "))

	for _, row := range t.rows {
		b.Reset()
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(Stdout, strings.TrimRight(b.String(), " "))
	}
}
