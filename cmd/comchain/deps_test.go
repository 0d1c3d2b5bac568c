package main

import (
	"testing"

	"github.com/brojonat/comchain/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccount(t *testing.T) {
	tests := []struct {
		in      string
		want    ledger.AccountRef
		wantErr bool
	}{
		{in: "0xABcd", want: ledger.AccountRef{Address: "abcd"}},
		{in: "abcd:Nant", want: ledger.AccountRef{Address: "abcd", Type: "Nant"}},
		{in: " 0xabcd:Cm ", want: ledger.AccountRef{Address: "abcd", Type: "Cm"}},
		{in: ":Nant", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAccount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAccounts_RequiresOne(t *testing.T) {
	_, err := parseAccounts(nil)
	assert.Error(t, err)
}

func TestCommandsValidateBeforeNetwork(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		message string
	}{
		{
			name:    "transfer sub-cent amount",
			args:    []string{"transfer", "--wallet", "w.json", "--to", "bb", "--amount", "1.234"},
			message: "malformed amount",
		},
		{
			name:    "transactions without ledger",
			args:    []string{"transactions", "--account", "aa"},
			message: "ledger-rpc-url is required",
		},
		{
			name:    "balance needs an address",
			args:    []string{"balance", "--type", "Nant"},
			message: "exactly one argument",
		},
		{
			name:    "validate-wallet bad limit",
			args:    []string{"admin", "validate-wallet", "--wallet", "w.json", "--wallet-limit-max", "10", "aa"},
			message: "--wallet-limit-max",
		},
		{
			name:    "credit-url non-positive amount",
			args:    []string{"admin", "credit-url", "--owner", "7", "--amount", "0"},
			message: "credit amount must be positive",
		},
		{
			name:    "schedule interval too short",
			args:    []string{"sync", "schedule", "--account", "aa", "--interval", "30s", "w-1"},
			message: "at least 1m",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"comchain", "--ledger-rpc-url", ""}, tt.args...)
			err := newApp().Run(args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}
