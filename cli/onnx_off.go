//go:build !onnx

package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/avatarmem/config"
	"github.com/becomeliminal/avatarmem/memory"
)

func newONNXEmbedder(context.Context, config.EmbedderConfig) (memory.Embedder, func() error, error) {
	return nil, nil, goerr.New("onnx embedder not available: rebuild with -tags onnx")
}
