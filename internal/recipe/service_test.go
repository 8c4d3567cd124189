package recipe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtractOutput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"list with output", `[{"output":"Pancakes"}]`, "Pancakes"},
		{"list with wrapped json", `[{"json":{"output":"Soup"}}]`, "Soup"},
		{"wrapped non-string output", `[{"json":{"output":42}}]`, "42"},
		{"object with output", `{"output":"Salad"}`, "Salad"},
		{"object without output", `{"text":"x"}`, `{"text":"x"}`},
		{"list of strings", `["plain"]`, "plain"},
		{"list without output", `[{"foo":"bar"}]`, `{"foo":"bar"}`},
		{"empty list", `[]`, `[]`},
		{"bare string", `"just text"`, "just text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractOutput([]byte(tt.raw))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := extractOutput([]byte("<html>"))
	require.Error(t, err)
}

func TestCleanHTML(t *testing.T) {
	in := "<p>Step 1<br>Step 2<BR/>Step 3<br />done</p> &amp; salt &lt;to taste&gt;&nbsp;!"
	require.Equal(t, "Step 1\nStep 2\nStep 3\ndone & salt <to taste> !", cleanHTML(in))
}

func TestWebhookClient_Generate(t *testing.T) {
	var got []webhookMessage
	var method, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, contentType = r.Method, r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`[{"output":"Borscht<br>with beets"}]`))
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, 5*time.Second, 1)
	text, err := c.Generate(context.Background(), "something with beets")
	require.NoError(t, err)
	require.Equal(t, "Borscht\nwith beets", text)
	require.Equal(t, http.MethodPost, method)
	require.Equal(t, "application/json", contentType)

	require.Len(t, got, 1)
	require.Equal(t, "sendMessage", got[0].Action)
	require.Equal(t, "something with beets", got[0].ChatInput)
	require.Len(t, got[0].SessionID, 32)
	require.NotContains(t, got[0].SessionID, "-")
}

func TestWebhookClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"output":"ok"}`))
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, 5*time.Second, 5)
	text, err := c.Generate(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.Equal(t, int32(3), calls.Load())
}

func TestWebhookClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewWebhookClient(srv.URL, 5*time.Second, 5)
	_, err := c.Generate(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
	require.Equal(t, int32(1), calls.Load())
}

func TestWebhookClient_NotConfigured(t *testing.T) {
	c := NewWebhookClient("", time.Second, 1)
	_, err := c.Generate(context.Background(), "x")
	require.ErrorIs(t, err, ErrWebhookNotConfigured)
}
