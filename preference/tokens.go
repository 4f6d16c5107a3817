package preference

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is compatible with current chat models closely enough for
// budgeting.
const DefaultEncoding = "cl100k_base"

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

var (
	encodings   = map[string]*tiktoken.Tiktoken{}
	encodingsMu sync.Mutex
)

// tokenCounter counts tokens with a shared, lazily loaded encoding.
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTokenCounter(name string) (*tokenCounter, error) {
	if name == "" {
		name = DefaultEncoding
	}

	encodingsMu.Lock()
	defer encodingsMu.Unlock()

	enc, ok := encodings[name]
	if !ok {
		var err error
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("load %s encoding: %w", name, err)
		}
		encodings[name] = enc
	}
	return &tokenCounter{enc: enc}, nil
}

func (c *tokenCounter) count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// fitBudget keeps the newest texts whose total token count fits budget.
// texts are oldest first and so is the result. budget <= 0 keeps all.
func (c *tokenCounter) fitBudget(texts []string, budget int) []string {
	if budget <= 0 {
		return texts
	}
	used := 0
	start := len(texts)
	for i := len(texts) - 1; i >= 0; i-- {
		n := c.count(texts[i])
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	return texts[start:]
}
