package rewards

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotify(t *testing.T) {
	type request struct {
		path string
		auth string
		body map[string]any
	}
	got := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		data := map[string]any{}
		_ = json.Unmarshal(body, &data)
		got <- request{r.URL.Path, r.Header.Get("Polling-Authentication"), data}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewPollingNotifier(srv.URL+"/", "secret", 10)
	require.NoError(t, err)
	err = n.Notify(context.Background(), "user1", "reward_get", map[string]any{"name": "coffee"})
	require.NoError(t, err)

	req := <-got
	require.Equal(t, "/reward_get_user1/send", req.path)
	require.Equal(t, "secret", req.auth)
	require.Equal(t, "coffee", req.body["name"])
}

func TestNotifyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n, err := NewPollingNotifier(srv.URL, "wrong", 10)
	require.NoError(t, err)
	require.Error(t, n.Notify(context.Background(), "user1", "reward_use", nil))

	_, err = NewPollingNotifier("", "", 10)
	require.Error(t, err)
}
