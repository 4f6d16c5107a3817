//go:build onnx

package main

import (
	"github.com/becomeliminal/nim-recall/config"
	"github.com/becomeliminal/nim-recall/embedding"
	"github.com/becomeliminal/nim-recall/embedding/onnx"
)

func newONNXEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	return onnx.New(onnx.Config{
		LibraryPath:   cfg.LibraryPath,
		ModelPath:     cfg.ModelPath,
		TokenizerPath: cfg.TokenizerPath,
		Dimensions:    cfg.Dimensions,
	})
}
