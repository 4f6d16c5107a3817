//go:build onnx

package onnx

import (
	"encoding/json"
	"os"
	"strings"
)

// BERT special token ids for the uncased vocab.
const (
	clsToken = 101
	sepToken = 102
	unkToken = 100
)

// wordPiece is a minimal BERT WordPiece tokenizer over tokenizer.json.
type wordPiece struct {
	vocab map[string]int
}

func loadWordPiece(path string) (*wordPiece, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	return &wordPiece{vocab: parsed.Model.Vocab}, nil
}

// Encode returns padded input ids and the attention mask, both of length
// seqLen, framed by [CLS] and [SEP].
func (w *wordPiece) Encode(text string, seqLen int) ([]int64, []int64) {
	ids := make([]int64, seqLen)
	mask := make([]int64, seqLen)

	tokens := w.tokenize(text)
	if len(tokens) > seqLen-2 {
		tokens = tokens[:seqLen-2]
	}

	ids[0], mask[0] = clsToken, 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = sepToken, 1

	return ids, mask
}

func (w *wordPiece) tokenize(text string) []int64 {
	var out []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if word == "" {
			continue
		}
		if id, ok := w.vocab[word]; ok {
			out = append(out, int64(id))
			continue
		}
		for _, piece := range w.split(word) {
			if id, ok := w.vocab[piece]; ok {
				out = append(out, int64(id))
			} else {
				out = append(out, unkToken)
			}
		}
	}
	return out
}

// split greedily matches the longest vocab prefix, marking continuations
// with "##".
func (w *wordPiece) split(word string) []string {
	var pieces []string
	for start := 0; start < len(word); {
		end := len(word)
		matched := false
		for ; end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := w.vocab[piece]; ok {
				pieces = append(pieces, piece)
				matched = true
				break
			}
		}
		if !matched {
			pieces = append(pieces, "[UNK]")
			end = start + 1
		}
		start = end
	}
	return pieces
}
