package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama answers every chat request with one extracted fragment.
func fakeOllama(t *testing.T, extraction string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/chat", r.URL.Path)
		resp := map[string]any{
			"model":   "llama3.2",
			"message": map[string]string{"role": "assistant", "content": extraction},
			"done":    true,
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeConfig(t *testing.T, ollamaURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "avatarmem.yaml")
	content := `
log:
  level: error
store:
  type: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "fragments.db") + `
embedder:
  type: mock
  dimensions: 64
generator:
  type: ollama
  host: ` + ollamaURL + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type harness struct {
	t      *testing.T
	config string
	envRef string
}

func (h *harness) run(args ...string) (string, *Error) {
	h.t.Helper()
	var out bytes.Buffer
	argv := append([]string{"avatarmem"}, args[0], "--config", h.config, "--env-file", h.envRef)
	argv = append(argv, args[1:]...)
	err := run(context.Background(), argv, &out)
	return out.String(), err
}

func TestRememberRecallListForget(t *testing.T) {
	srv, calls := fakeOllama(t, `{"tone":"happy","fragments":[{"text":"Has a golden retriever named Max","confidence":0.9}]}`)
	h := &harness{t: t, config: writeConfig(t, srv.URL), envRef: filepath.Join(t.TempDir(), "absent.env")}

	out, err := h.run("remember", "--owner", "u1", "--avatar", "a1", "--token", "tok-1",
		"-m", "I just got a golden retriever, his name is Max!")
	require.Nil(t, err)
	assert.Equal(t, "stored 1 fragment(s)\n", out)
	assert.Equal(t, int32(1), calls.Load())

	out, err = h.run("recall", "--owner", "u1", "--avatar", "a1", "--token", "tok-1",
		"--threshold", "0.99", "-q", "Has a golden retriever named Max")
	require.Nil(t, err)
	assert.Contains(t, out, "Has a golden retriever named Max")

	out, err = h.run("recall", "--owner", "u1", "--avatar", "a1", "--token", "tok-1",
		"--prompt", "-q", "Has a golden retriever named Max")
	require.Nil(t, err)
	assert.Contains(t, out, "WHAT YOU REMEMBER ABOUT THIS PERSON")

	out, err = h.run("list", "--owner", "u1", "--avatar", "a1", "--token", "tok-1")
	require.Nil(t, err)
	assert.Contains(t, out, "happy")
	assert.Contains(t, out, "1 fragment(s) in u1/a1/tok-1")

	// Other relationships of the same avatar see nothing
	out, err = h.run("list", "--owner", "u1", "--avatar", "a1")
	require.Nil(t, err)
	assert.Contains(t, out, "0 fragment(s) in u1/a1/owner")

	out, err = h.run("forget", "--owner", "u1", "--avatar", "a1", "--token", "tok-1")
	require.Nil(t, err)
	assert.Equal(t, "deleted 1 fragment(s)\n", out)

	out, err = h.run("forget", "--owner", "u1", "--avatar", "a1", "--token", "tok-1")
	require.Nil(t, err)
	assert.Equal(t, "deleted 0 fragment(s)\n", out)
}

func TestRememberNothingExtracted(t *testing.T) {
	srv, _ := fakeOllama(t, `{"tone":"neutral","fragments":[]}`)
	h := &harness{t: t, config: writeConfig(t, srv.URL), envRef: filepath.Join(t.TempDir(), "absent.env")}

	out, err := h.run("remember", "--owner", "u1", "--avatar", "a1", "ok")
	require.Nil(t, err)
	assert.Equal(t, "stored 0 fragment(s)\n", out)
}

func TestCommandErrors(t *testing.T) {
	srv, calls := fakeOllama(t, `[]`)
	h := &harness{t: t, config: writeConfig(t, srv.URL), envRef: filepath.Join(t.TempDir(), "absent.env")}

	tests := []struct {
		name string
		args []string
	}{
		{"missing owner", []string{"list", "--avatar", "a1"}},
		{"reserved token", []string{"list", "--owner", "u1", "--avatar", "a1", "--token", "owner"}},
		{"empty message", []string{"remember", "--owner", "u1", "--avatar", "a1"}},
		{"empty query", []string{"recall", "--owner", "u1", "--avatar", "a1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(tt.args...)
			require.NotNil(t, err)
			assert.Equal(t, 1, err.Code)
		})
	}
	assert.Zero(t, calls.Load())
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  type: redis\n"), 0o600))
	h := &harness{t: t, config: path, envRef: filepath.Join(t.TempDir(), "absent.env")}

	_, err := h.run("list", "--owner", "u1", "--avatar", "a1")
	require.NotNil(t, err)
	assert.Contains(t, err.Message, "unknown store type")
}
