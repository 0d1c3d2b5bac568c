package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/brojonat/comchain/service/unlock"
	"golang.org/x/term"
)

// errPromptAborted ends the unlock loop when the user enters an empty password.
var errPromptAborted = errors.New("password prompt aborted")

// readPassword reads one line from the terminal without echo. The line
// terminator is not part of the result; everything else is kept verbatim.
var readPassword = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

// terminalPrompt asks for the wallet password on w. After a failed unlock
// it says so before asking again.
func terminalPrompt(w io.Writer) unlock.PromptFunc {
	return func(ctx context.Context, state unlock.State, accountRef string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if state == unlock.StateFailedUnlock {
			fmt.Fprintf(w, "Wrong password for %s. Try again (empty to abort): ", accountRef)
		} else {
			fmt.Fprintf(w, "Password for %s: ", accountRef)
		}

		pass, err := readPassword()
		fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if len(pass) == 0 {
			return "", errPromptAborted
		}
		return string(pass), nil
	}
}

// newPassword asks for a password twice.
func newPassword(w io.Writer) (string, error) {
	fmt.Fprint(w, "New wallet password: ")
	first, err := readPassword()
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprint(w, "Confirm password: ")
	second, err := readPassword()
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	password := string(first)
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	if password != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}
