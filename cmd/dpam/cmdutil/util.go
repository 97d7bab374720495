// Package cmdutil provides shared utilities for dpam commands.
package cmdutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/marmos91/dittopam/internal/cli/credentials"
	"github.com/marmos91/dittopam/internal/cli/output"
	"github.com/marmos91/dittopam/internal/cli/prompt"
	"github.com/marmos91/dittopam/pkg/apiclient"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ServerURL string
	Token     string
	Output    string
	NoColor   bool
}

// GetAuthenticatedClient returns a control API client. The --server and
// --token flags take precedence over the saved login.
func GetAuthenticatedClient() (*apiclient.Client, error) {
	if Flags.ServerURL != "" && Flags.Token != "" {
		return apiclient.New(Flags.ServerURL).WithToken(Flags.Token), nil
	}

	store, err := credentials.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}

	ctx, err := store.Current()
	if err != nil {
		if errors.Is(err, credentials.ErrNoCurrentContext) && Flags.ServerURL != "" {
			return nil, fmt.Errorf("no token for %s. Pass --token or run 'dpam login'", Flags.ServerURL)
		}
		return nil, credentials.ErrNotLoggedIn
	}

	url := ctx.ServerURL
	if Flags.ServerURL != "" {
		url = Flags.ServerURL
	}
	tok := ctx.Token
	if Flags.Token != "" {
		tok = Flags.Token
	}

	if tok == "" {
		return nil, credentials.ErrNotLoggedIn
	}
	if Flags.Token == "" && ctx.IsExpired() {
		return nil, fmt.Errorf("saved token expired. Run 'dpam login' to issue a new one")
	}

	return apiclient.New(url).WithToken(tok), nil
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// Printer returns a stdout printer honouring --output and --no-color.
func Printer() (*output.Printer, error) {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(os.Stdout, format, !Flags.NoColor && os.Getenv("NO_COLOR") == ""), nil
}

// PrintOutput prints data in the specified format (JSON, YAML, or table).
// For table format, it displays emptyMsg if data is empty, otherwise uses the tableRenderer.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// PrintResource prints a resource in the specified format. For table
// format, pairs are printed as a key-value list.
func PrintResource(w io.Writer, data any, pairs [][2]string) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		return output.SimpleTable(w, pairs)
	}
}

// PrintSuccess prints a success message if the output format is table.
func PrintSuccess(msg string) {
	p, err := Printer()
	if err != nil || p.Format() != output.FormatTable {
		return
	}
	p.Success(msg)
}

// RunWithConfirmation prompts for confirmation (unless force is true) and
// runs fn.
func RunWithConfirmation(question string, force bool, fn func() error) error {
	confirmed, err := prompt.ConfirmWithForce(question, force)
	if err != nil {
		return HandleAbort(err)
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}
	return fn()
}

// ParseCommaSeparatedList parses a comma-separated string into a slice of trimmed strings.
func ParseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

// BoolToYesNo converts a boolean to "yes" or "no" string.
func BoolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// EmptyOr returns the value if not empty, otherwise returns the fallback.
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// HandleAbort checks if error is an abort (Ctrl+C) and prints a message.
// Returns nil for abort (user cancelled), otherwise returns the original error.
func HandleAbort(err error) error {
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}
