package prompt

import (
	"errors"

	"github.com/manifoldco/promptui"
)

// ErrPasswordMismatch indicates passwords don't match.
var ErrPasswordMismatch = errors.New("passwords do not match")

// Password prompts for a password input with masking.
func Password(label string) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}

	result, err := prompt.Run()
	return result, wrapError(err)
}

// NewPassword prompts for a new account password with confirmation.
// validate, when set, enforces the directory's password policy.
func NewPassword(validate func(string) error) (string, error) {
	prompt := promptui.Prompt{
		Label:    "Password",
		Mask:     '*',
		Validate: validate,
	}
	password, err := prompt.Run()
	if err != nil {
		return "", wrapError(err)
	}

	confirm, err := Password("Confirm password")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", ErrPasswordMismatch
	}
	return password, nil
}
