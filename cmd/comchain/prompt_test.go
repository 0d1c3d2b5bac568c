package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/brojonat/comchain/service/unlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePasswords makes readPassword return answers in order.
func fakePasswords(t *testing.T, answers ...string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })

	readPassword = func() ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more input")
		}
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
}

func TestTerminalPrompt(t *testing.T) {
	fakePasswords(t, "secret", "again")
	var out bytes.Buffer
	prompt := terminalPrompt(&out)

	password, err := prompt(context.Background(), unlock.StateFirstTry, "aa11")
	require.NoError(t, err)
	assert.Equal(t, "secret", password)
	assert.Contains(t, out.String(), "Password for aa11")
	assert.NotContains(t, out.String(), "Wrong password")

	out.Reset()
	password, err = prompt(context.Background(), unlock.StateFailedUnlock, "aa11")
	require.NoError(t, err)
	assert.Equal(t, "again", password)
	assert.Contains(t, out.String(), "Wrong password for aa11")
}

func TestTerminalPrompt_EmptyAborts(t *testing.T) {
	fakePasswords(t, "")
	prompt := terminalPrompt(&bytes.Buffer{})

	_, err := prompt(context.Background(), unlock.StateFailedUnlock, "aa11")
	assert.ErrorIs(t, err, errPromptAborted)
}

func TestTerminalPrompt_KeepsSurroundingSpaces(t *testing.T) {
	fakePasswords(t, "  pass phrase ", "   ")
	prompt := terminalPrompt(&bytes.Buffer{})

	password, err := prompt(context.Background(), unlock.StateFirstTry, "aa11")
	require.NoError(t, err)
	assert.Equal(t, "  pass phrase ", password)

	password, err = prompt(context.Background(), unlock.StateFailedUnlock, "aa11")
	require.NoError(t, err)
	assert.Equal(t, "   ", password)
}

func TestTerminalPrompt_CanceledContext(t *testing.T) {
	fakePasswords(t, "secret")
	prompt := terminalPrompt(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := prompt(ctx, unlock.StateFirstTry, "aa11")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPassword(t *testing.T) {
	tests := []struct {
		name    string
		answers []string
		want    string
		wantErr string
	}{
		{name: "match", answers: []string{"pw", "pw"}, want: "pw"},
		{name: "spaces are kept", answers: []string{" pw ", " pw "}, want: " pw "},
		{name: "trailing space differs", answers: []string{"pw ", "pw"}, wantErr: "do not match"},
		{name: "mismatch", answers: []string{"pw", "other"}, wantErr: "do not match"},
		{name: "empty", answers: []string{"", ""}, wantErr: "must not be empty"},
		{name: "read error", answers: []string{"pw"}, wantErr: "failed to read password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakePasswords(t, tt.answers...)
			got, err := newPassword(&bytes.Buffer{})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
