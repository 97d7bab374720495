// Package prompt provides the interactive terminal prompts used by dpam.
package prompt

import (
	"errors"
	"strings"

	"github.com/manifoldco/promptui"
)

// Confirm asks a yes/no question. An empty answer yields defaultYes and
// Ctrl+C yields ErrAborted.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := " [y/N]"
	if defaultYes {
		hint = " [Y/n]"
	}

	answer, err := (&promptui.Prompt{Label: label + hint, IsConfirm: true}).Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		// promptui reports a "n" answer as ErrAbort.
		return false, nil
	case err != nil && answer == "":
		return defaultYes, nil
	case err != nil:
		return false, err
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// ConfirmWithForce skips the question when force is set.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label, false)
}
