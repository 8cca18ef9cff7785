package onnx_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/avatarmem/memory/embedder/onnx"
)

var vocab = map[string]int{
	"[UNK]":     100,
	"has":       2038,
	"a":         1037,
	"golden":    3585,
	"retriever": 28031,
	"play":      2377,
	"##ing":     2075,
	"dog":       3899,
	"##s":       2015,
}

func TestTokenize(t *testing.T) {
	tok := onnx.NewTokenizer(vocab)

	testCases := []struct {
		name string
		text string
		want []int64
	}{
		{"exact words", "Has a golden retriever.", []int64{2038, 1037, 3585, 28031}},
		{"word pieces", "playing dogs", []int64{2377, 2075, 3899, 2015}},
		{"unknown", "zzz", []int64{100, 100, 100}},
		{"punctuation only", "?!", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tok.Tokenize(tc.text))
		})
	}
}

func TestEncode(t *testing.T) {
	tok := onnx.NewTokenizer(vocab)

	ids, mask := tok.Encode("a dog", 6)
	assert.Equal(t, []int64{101, 1037, 3899, 102, 0, 0}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1, 0, 0}, mask)

	ids, mask = tok.Encode("has a golden retriever", 4)
	assert.Equal(t, []int64{101, 2038, 1037, 102}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1}, mask)
}

func TestLoadTokenizer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokenizer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model":{"vocab":{"dog":3899}}}`), 0o600))

	tok, err := onnx.LoadTokenizer(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{3899}, tok.Tokenize("dog"))

	_, err = onnx.LoadTokenizer(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
