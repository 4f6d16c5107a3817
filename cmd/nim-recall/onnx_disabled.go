//go:build !onnx

package main

import (
	"errors"

	"github.com/becomeliminal/nim-recall/config"
	"github.com/becomeliminal/nim-recall/embedding"
)

func newONNXEmbedder(config.EmbeddingConfig) (embedding.Embedder, error) {
	return nil, errors.New("onnx support not compiled in, rebuild with -tags onnx")
}
