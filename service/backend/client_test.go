package backend

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupLabels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, EndpointPartners, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body struct {
			Addresses []string `json:"addresses"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.ElementsMatch(t, []string{"aa", "bb"}, body.Addresses)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"0xAA": {"display_name": "Alice"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", nil, nil, nil)
	labels, err := client.LookupLabels(context.Background(), []string{"aa", "bb"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"aa": "Alice"}, labels)
}

func TestPost_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, nil, nil)
	err := client.Post(context.Background(), EndpointActivate, map[string]string{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "nope")
}

func TestNotify(t *testing.T) {
	tests := []struct {
		response string
		expected bool
	}{
		{response: `true`, expected: true},
		{response: `{"ok": 1}`, expected: true},
		{response: `1`, expected: true},
		{response: `"done"`, expected: true},
		{response: `false`, expected: false},
		{response: `null`, expected: false},
		{response: `0`, expected: false},
		{response: `""`, expected: false},
		{response: `{}`, expected: false},
		{response: `[]`, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.response, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			client := NewClient(server.URL, "", nil, nil, nil)
			ok, err := client.Notify(context.Background(), EndpointValidateCredit, map[string]interface{}{"ids": []int{7}})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestCreditURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, EndpointCredit, r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body["owner_id"])
		assert.Equal(t, 12.5, body["amount"])
		_, _ = w.Write([]byte(`"https://pay.example/credit/42"`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "", nil, nil, nil)
	url, err := client.CreditURL(context.Background(), "42", big.NewInt(1250))
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/credit/42", url)
}
