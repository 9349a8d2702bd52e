package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifierPostsText(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL).Notify(context.Background(), AlertMessage{
		CommunityID: "valley",
		Period:      7,
		Summary:     "ledger does not sum to zero",
		Net:         "12",
		Meta:        map[string]string{"b": "2", "a": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "text", got.MsgType)
	assert.Equal(t, "[Energy Ledger Alert]\nCommunity: valley\nPeriod: 7\nSummary: ledger does not sum to zero\nNet: 12\na: 1\nb: 2", got.Text.Content)
}

func TestWebhookNotifierErrors(t *testing.T) {
	require.Error(t, NewWebhookNotifier("").Notify(context.Background(), AlertMessage{}))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	err := NewWebhookNotifier(server.URL).Notify(context.Background(), AlertMessage{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
