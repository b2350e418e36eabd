// Package tokenizer counts tokens with the single encoding used across the
// gateway, so every logged count can be summed against every other.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

// Encoding is the fixed BPE scheme for all counts.
const Encoding = "cl100k_base"

var loaderOnce sync.Once

// Counter converts text to a token count. It is safe for concurrent use.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// New loads the encoding from the embedded BPE ranks; no network access is needed.
func New() (*Counter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", Encoding, err)
	}
	return &Counter{enc: enc}, nil
}

// Count returns the number of tokens in text. Empty text counts zero.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}
