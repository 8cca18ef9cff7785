// Package onnx embeds text locally with a sentence-transformer model run by
// ONNX Runtime (all-MiniLM-L6-v2 by default).
//
// The embedder needs the onnxruntime shared library and is only compiled
// with the "onnx" build tag. The WordPiece tokenizer is always available.
package onnx
