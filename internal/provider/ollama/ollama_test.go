package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mezbaul-h/june/internal/provider"
)

func collect(t *testing.T, deltas <-chan provider.Delta, errs <-chan error) ([]string, error) {
	t.Helper()
	var out []string
	for d := range deltas {
		out = append(out, d.Content)
	}
	return out, <-errs
}

func TestGenerate_StreamsNDJSON(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hi"},"done":false}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" there"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	g, err := New(srv.URL+"/", "llama3")
	require.NoError(t, err)

	deltas, errs := g.Generate(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hello"}})
	out, err := collect(t, deltas, errs)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", " there"}, out)

	assert.Equal(t, "llama3", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, []provider.Message{{Role: provider.RoleUser, Content: "hello"}}, got.Messages)
}

func TestGenerate_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	g, err := New(srv.URL, "missing")
	require.NoError(t, err)

	deltas, errs := g.Generate(context.Background(), nil)
	out, err := collect(t, deltas, errs)
	assert.Empty(t, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestGenerate_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	}))
	defer srv.Close()

	g, err := New(srv.URL, "big")
	require.NoError(t, err)

	deltas, errs := g.Generate(context.Background(), nil)
	out, err := collect(t, deltas, errs)
	assert.Equal(t, []string{"partial"}, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestNew_Defaults(t *testing.T) {
	g, err := New("", "llama3")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL+"/api/chat", g.chatURL)

	_, err = New("", "")
	assert.Error(t, err)
}
