package gemini_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/avatarmem/memory"
	"github.com/becomeliminal/avatarmem/memory/embedder/gemini"
)

func TestNewRequiresCredentials(t *testing.T) {
	_, err := gemini.New(context.Background(), gemini.Config{})
	assert.Error(t, err)
}

func TestEmbedBlank(t *testing.T) {
	e, err := gemini.New(context.Background(), gemini.Config{APIKey: "unused"})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "  ")
	assert.ErrorIs(t, err, memory.ErrEmptyInput)
}

func TestEmbedLive(t *testing.T) {
	key := os.Getenv("TEST_GEMINI_API_KEY")
	if key == "" {
		t.Skip("TEST_GEMINI_API_KEY must be set to run Gemini embedding tests")
	}
	ctx := context.Background()

	e, err := gemini.New(ctx, gemini.Config{APIKey: key, Dimensions: 256})
	require.NoError(t, err)

	dog, err := e.Embed(ctx, "Has a golden retriever named Max")
	require.NoError(t, err)
	require.Len(t, dog, 256)

	pets, err := e.Embed(ctx, "pets")
	require.NoError(t, err)
	tax, err := e.Embed(ctx, "quarterly tax filing deadlines")
	require.NoError(t, err)

	assert.Greater(t, memory.CosineSimilarity(dog, pets), memory.CosineSimilarity(dog, tax))
}
