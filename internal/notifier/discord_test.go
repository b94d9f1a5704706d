package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := NewDiscordNotifier(server.URL).Notify(context.Background(), "upload finished")
	require.NoError(t, err)
	assert.Equal(t, "upload finished", got["content"])
}

func TestDiscordNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewDiscordNotifier(server.URL).Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestDiscordNotifier_MissingURL(t *testing.T) {
	require.Error(t, (&DiscordNotifier{}).Notify(context.Background(), "x"))
}

func TestNew(t *testing.T) {
	assert.IsType(t, Nop{}, New(""))
	assert.IsType(t, &DiscordNotifier{}, New("http://hook"))
	assert.NoError(t, Nop{}.Notify(context.Background(), "x"))
}
