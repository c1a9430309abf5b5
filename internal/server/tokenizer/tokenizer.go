// Package tokenizer estimates token counts for billing. The estimate blends
// a word count with a rune count, which tracks BPE tokenizers closely enough
// for English and code without shipping vocabulary files.
package tokenizer

import (
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

// MessageOverhead is added per chat message for role and framing tokens.
const MessageOverhead = 4

// EstimateTokens returns the estimated token count of text. Non-empty text
// always costs at least one token.
func EstimateTokens(text string) int {
	var c Counter
	c.Add(text)
	return c.Tokens()
}

// EstimateMessages estimates a whole chat history.
func EstimateMessages(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content) + MessageOverhead
	}
	return total
}

// Counter computes EstimateTokens incrementally over appended chunks.
// Chunks may split words or multi-byte runes; the result equals
// EstimateTokens of the concatenation.
type Counter struct {
	runes   int
	words   int
	inWord  bool
	pending []byte
}

// Add feeds the next chunk of text.
func (c *Counter) Add(chunk string) {
	b := append(c.pending, chunk...)
	c.pending = nil
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 && !utf8.FullRune(b) {
			c.pending = append([]byte(nil), b...)
			return
		}
		b = b[size:]
		c.runes++
		if unicode.IsSpace(r) {
			c.inWord = false
			continue
		}
		if !c.inWord {
			c.words++
			c.inWord = true
		}
	}
}

// Tokens returns the estimate for everything added so far. It never
// decreases as more text is added.
func (c *Counter) Tokens() int {
	runes := c.runes
	if len(c.pending) > 0 {
		runes++
	}
	if runes == 0 {
		return 0
	}
	n := (c.words + runes/4) / 2
	if n < 1 {
		return 1
	}
	return n
}
