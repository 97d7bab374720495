// Package output renders dpam command results as tables, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format represents the output format type.
type Format string

const (
	// FormatTable outputs data in a formatted table.
	FormatTable Format = "table"
	// FormatJSON outputs data as JSON.
	FormatJSON Format = "json"
	// FormatYAML outputs data as YAML.
	FormatYAML Format = "yaml"
)

// ParseFormat parses a string into a Format, returning an error if invalid.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %q (valid: table, json, yaml)", s)
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// Printer handles formatted output to a writer.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter creates a new Printer with the given options.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{
		out:    out,
		format: format,
		color:  color,
	}
}

// DefaultPrinter creates a table Printer on stdout. Color is disabled
// when NO_COLOR is set.
func DefaultPrinter() *Printer {
	return NewPrinter(os.Stdout, FormatTable, os.Getenv("NO_COLOR") == "")
}

// FromFlag creates a stdout Printer for the value of an --output flag.
func FromFlag(flag string) (*Printer, error) {
	format, err := ParseFormat(flag)
	if err != nil {
		return nil, err
	}
	p := DefaultPrinter()
	p.format = format
	return p, nil
}

// Format returns the printer's output format.
func (p *Printer) Format() Format {
	return p.format
}

// ColorEnabled returns whether color output is enabled.
func (p *Printer) ColorEnabled() bool {
	return p.color
}

// Print outputs data in the configured format. Table output needs a
// TableRenderer and falls back to JSON for anything else.
func (p *Printer) Print(data any) error {
	if p.format == FormatTable {
		if renderer, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, renderer)
		}
		return PrintJSON(p.out, data)
	}
	return Encode(p.out, p.format, data)
}

// Println prints a message followed by a newline.
func (p *Printer) Println(args ...any) {
	_, _ = fmt.Fprintln(p.out, args...)
}

// Printf prints a formatted message.
func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

const (
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

func (p *Printer) colored(color, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "%s%s%s\n", color, msg, colorReset)
	} else {
		_, _ = fmt.Fprintln(p.out, msg)
	}
}

// Success prints a success message.
func (p *Printer) Success(msg string) { p.colored(colorGreen, msg) }

// Error prints an error message.
func (p *Printer) Error(msg string) { p.colored(colorRed, msg) }

// Warning prints a warning message.
func (p *Printer) Warning(msg string) { p.colored(colorYellow, msg) }

// Result prints a PAM status line, green when ok and red otherwise.
func (p *Printer) Result(status string, code int, ok bool) {
	msg := fmt.Sprintf("%s (%d)", status, code)
	if ok {
		p.Success(msg)
		return
	}
	p.Error(msg)
}
