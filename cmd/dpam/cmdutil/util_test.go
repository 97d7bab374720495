package cmdutil

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittopam/internal/cli/credentials"
	"github.com/marmos91/dittopam/internal/cli/output"
)

// resetFlags restores the global flags after a test.
func resetFlags(t *testing.T) {
	t.Helper()
	saved := *Flags
	t.Cleanup(func() { *Flags = saved })
}

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single item", input: "alice", expected: []string{"alice"}},
		{name: "items with spaces", input: "alice, bob , carol", expected: []string{"alice", "bob", "carol"}},
		{name: "empty items filtered out", input: "alice,,bob,", expected: []string{"alice", "bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseCommaSeparatedList(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("ParseCommaSeparatedList(%q) = %v, want %v", tt.input, result, tt.expected)
			}
			for i, v := range result {
				if v != tt.expected[i] {
					t.Errorf("ParseCommaSeparatedList(%q)[%d] = %q, want %q", tt.input, i, v, tt.expected[i])
				}
			}
		})
	}
}

func TestBoolToYesNo(t *testing.T) {
	if BoolToYesNo(true) != "yes" || BoolToYesNo(false) != "no" {
		t.Error("BoolToYesNo returned unexpected values")
	}
}

func TestEmptyOr(t *testing.T) {
	if EmptyOr("", "-") != "-" || EmptyOr("x", "-") != "x" {
		t.Error("EmptyOr returned unexpected values")
	}
}

func TestPrintOutput_YAML(t *testing.T) {
	resetFlags(t)
	Flags.Output = "yaml"

	var buf bytes.Buffer
	table := output.NewTableData("NAME")
	if err := PrintOutput(&buf, []string{"alice", "bob"}, false, "No users", table); err != nil {
		t.Fatalf("PrintOutput() error = %v", err)
	}
	if expected := "- alice\n- bob\n"; buf.String() != expected {
		t.Errorf("PrintOutput() = %q, want %q", buf.String(), expected)
	}
}

func TestPrintOutput_Table_Empty(t *testing.T) {
	resetFlags(t)
	Flags.Output = "table"

	var buf bytes.Buffer
	if err := PrintOutput(&buf, []string{}, true, "No users found.", output.NewTableData("NAME")); err != nil {
		t.Fatalf("PrintOutput() error = %v", err)
	}
	if expected := "No users found.\n"; buf.String() != expected {
		t.Errorf("PrintOutput() = %q, want %q", buf.String(), expected)
	}
}

func TestPrintResource_Table(t *testing.T) {
	resetFlags(t)
	Flags.Output = "table"

	var buf bytes.Buffer
	err := PrintResource(&buf, nil, [][2]string{{"UID", "1001"}, {"Locked", "no"}})
	if err != nil {
		t.Fatalf("PrintResource() error = %v", err)
	}
	if !strings.Contains(buf.String(), "1001") || !strings.Contains(buf.String(), "Locked") {
		t.Errorf("PrintResource() = %q", buf.String())
	}
}

func TestPrintResource_JSON(t *testing.T) {
	resetFlags(t)
	Flags.Output = "json"

	var buf bytes.Buffer
	if err := PrintResource(&buf, map[string]int{"uid": 1001}, nil); err != nil {
		t.Fatalf("PrintResource() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"uid": 1001`) {
		t.Errorf("PrintResource() = %q", buf.String())
	}
}

func TestGetOutputFormatParsed(t *testing.T) {
	resetFlags(t)
	Flags.Output = "invalid"
	if _, err := GetOutputFormatParsed(); err == nil {
		t.Error("expected an error for an invalid format")
	}
}

func TestGetAuthenticatedClient_Flags(t *testing.T) {
	resetFlags(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	Flags.ServerURL = "http://127.0.0.1:8390"
	Flags.Token = "tok"

	if _, err := GetAuthenticatedClient(); err != nil {
		t.Fatalf("GetAuthenticatedClient() error = %v", err)
	}
}

func TestGetAuthenticatedClient_SavedLogin(t *testing.T) {
	resetFlags(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	Flags.ServerURL, Flags.Token = "", ""

	if _, err := GetAuthenticatedClient(); err == nil {
		t.Fatal("expected an error without a saved login")
	}

	store, err := credentials.NewStore()
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set("default", &credentials.Context{
		ServerURL: "http://127.0.0.1:8390",
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := GetAuthenticatedClient(); err != nil {
		t.Fatalf("GetAuthenticatedClient() error = %v", err)
	}

	if err := store.Set("default", &credentials.Context{
		ServerURL: "http://127.0.0.1:8390",
		Token:     "tok",
		ExpiresAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := GetAuthenticatedClient(); err == nil {
		t.Error("expected an error for an expired saved token")
	}
}
