package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/avatarmem/memory"
	"github.com/becomeliminal/avatarmem/memory/generator/ollama"
)

func TestGenerate(t *testing.T) {
	var body struct {
		Model    string          `json:"model"`
		Format   json.RawMessage `json:"format"`
		Stream   *bool           `json:"stream"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"[\"Plays the cello on weekends\"]"},"done":true}` + "\n"))
	}))
	t.Cleanup(srv.Close)

	g, err := ollama.New(ollama.Config{Host: srv.URL})
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), memory.GenerateRequest{System: "sys", Prompt: "extract", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `["Plays the cello on weekends"]`, out)

	assert.Equal(t, "llama3.2", body.Model)
	assert.JSONEq(t, `"json"`, string(body.Format))
	require.NotNil(t, body.Stream)
	assert.False(t, *body.Stream)
	assert.Len(t, body.Messages, 2)
}

func TestGenerateError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"llama3.2\" not found"}`))
	}))
	t.Cleanup(srv.Close)

	g, err := ollama.New(ollama.Config{Host: srv.URL})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), memory.GenerateRequest{Prompt: "extract"})
	assert.ErrorIs(t, err, memory.ErrGenerator)
}
