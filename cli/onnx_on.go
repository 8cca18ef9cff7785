//go:build onnx

package cli

import (
	"context"

	"github.com/becomeliminal/avatarmem/config"
	"github.com/becomeliminal/avatarmem/memory"
	"github.com/becomeliminal/avatarmem/memory/embedder/onnx"
)

func newONNXEmbedder(ctx context.Context, ec config.EmbedderConfig) (memory.Embedder, func() error, error) {
	e, err := onnx.New(ctx, onnx.Config{
		LibraryPath:       ec.ONNX.LibraryPath,
		ModelPath:         ec.ONNX.ModelPath,
		TokenizerPath:     ec.ONNX.TokenizerPath,
		Dimensions:        ec.Dimensions,
		MaxSequenceLength: ec.ONNX.MaxSequenceLength,
	})
	if err != nil {
		return nil, nil, err
	}
	return e, e.Close, nil
}
