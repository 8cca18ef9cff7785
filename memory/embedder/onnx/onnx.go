//go:build onnx

package onnx

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/avatarmem/logging"
	"github.com/becomeliminal/avatarmem/memory"
)

// Config configures the ONNX embedder.
type Config struct {
	// LibraryPath is the onnxruntime shared library. Empty uses the
	// platform default search path.
	LibraryPath string

	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int

	// MaxSequenceLength bounds the token window (default: 128).
	MaxSequenceLength int
}

var initOnce sync.Once
var initErr error

// Embedder generates embeddings using ONNX Runtime.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *Tokenizer
	dimensions int
	maxLen     int

	// The session is not safe for concurrent Run calls.
	mu sync.Mutex
}

// New creates a new ONNX embedder.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, goerr.New("onnx model path is required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSequenceLength <= 2 {
		cfg.MaxSequenceLength = 128
	}

	initOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, goerr.Wrap(initErr, "failed to initialize ONNX runtime", goerr.V("library", cfg.LibraryPath))
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	// MiniLM exports expose these names; verified against model.onnx.
	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create ONNX session", goerr.V("model", cfg.ModelPath))
	}

	logging.From(ctx).Info("[ONNX] model loaded",
		"model", cfg.ModelPath, "dimensions", cfg.Dimensions, "max_len", cfg.MaxSequenceLength)

	return &Embedder{
		session:    session,
		tokenizer:  tokenizer,
		dimensions: cfg.Dimensions,
		maxLen:     cfg.MaxSequenceLength,
	}, nil
}

// Embed converts text to embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, goerr.Wrap(memory.ErrEmptyInput, "text is blank")
	}
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "context done", goerr.V("cause", err.Error()))
	}

	inputIDs, attentionMask := e.tokenizer.Encode(text, e.maxLen)
	tokenTypeIDs := make([]int64, e.maxLen)

	shape := ort.NewShape(1, int64(e.maxLen))
	var inputs []ort.Value
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, data := range [][]int64{inputIDs, attentionMask, tokenTypeIDs} {
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "failed to create input tensor", goerr.V("cause", err.Error()))
		}
		inputs = append(inputs, tensor)
	}

	// nil outputs are allocated by Run
	outputs := []ort.Value{nil}
	e.mu.Lock()
	err := e.session.Run(inputs, outputs)
	e.mu.Unlock()
	defer func() {
		for _, output := range outputs {
			if output != nil {
				output.Destroy()
			}
		}
	}()
	if err != nil {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "ONNX inference failed", goerr.V("cause", err.Error()))
	}

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, "unexpected output tensor type")
	}

	embedding, err := pool(outputTensor.GetData(), outputTensor.GetShape(), attentionMask, e.dimensions)
	if err != nil {
		return nil, goerr.Wrap(memory.ErrEmbeddingProvider, err.Error())
	}
	return normalize(embedding), nil
}

// pool returns the sentence embedding: the output itself when already
// pooled ([1, hidden]), else the attention-masked mean over tokens
// ([1, seq, hidden]).
func pool(data []float32, shape ort.Shape, mask []int64, dims int) ([]float32, error) {
	embedding := make([]float32, dims)

	switch len(shape) {
	case 2:
		if len(data) < dims {
			return nil, goerr.New("output dimension mismatch", goerr.V("actual", len(data)), goerr.V("expected", dims))
		}
		copy(embedding, data[:dims])
		return embedding, nil

	case 3:
		if shape[0] != 1 {
			return nil, goerr.New("expected batch size 1", goerr.V("batch", shape[0]))
		}
		seqLen, hidden := int(shape[1]), int(shape[2])
		if hidden != dims {
			return nil, goerr.New("hidden size mismatch", goerr.V("actual", hidden), goerr.V("expected", dims))
		}

		var attended float32
		for i := 0; i < seqLen && i < len(mask); i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			offset := i * hidden
			for j := 0; j < hidden; j++ {
				embedding[j] += data[offset+j]
			}
		}
		if attended == 0 {
			return nil, goerr.New("no attended tokens")
		}
		for j := range embedding {
			embedding[j] /= attended
		}
		return embedding, nil

	default:
		return nil, goerr.New("unexpected output shape", goerr.V("shape", shape))
	}
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases ONNX resources.
func (e *Embedder) Close() error {
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			return goerr.Wrap(err, "failed to destroy ONNX session")
		}
	}
	return nil
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
