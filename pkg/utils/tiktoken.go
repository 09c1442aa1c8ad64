// Package utils counts tokens with tiktoken encodings.
package utils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Chat framing overhead, following the OpenAI cookbook accounting.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// TokenCounter counts tokens with one encoding. A nil counter estimates 4 chars per token.
type TokenCounter struct {
	codec tokenizer.Codec
}

//nolint:gochecknoglobals // codecs load BPE tables; one per encoding
var counters sync.Map // tokenizer.Encoding -> *TokenCounter

// EncodingFor picks the encoding closest to model. Only OpenAI publishes its
// tokenizers, so Claude, Gemini and local models are approximated with cl100k.
func EncodingFor(model string) tokenizer.Encoding {
	m := strings.ToLower(model)
	for _, prefix := range []string{"gpt-4o", "gpt-4.1", "gpt-5", "o1", "o3", "o4"} {
		if strings.HasPrefix(m, prefix) {
			return tokenizer.O200kBase
		}
	}
	return tokenizer.Cl100kBase
}

// NewTokenCounter returns the shared counter for model's encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	enc := EncodingFor(model)
	if tc, ok := counters.Load(enc); ok {
		return tc.(*TokenCounter), nil
	}
	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding for model %q: %w", enc, model, err)
	}
	tc, _ := counters.LoadOrStore(enc, &TokenCounter{codec: codec})
	return tc.(*TokenCounter), nil
}

// ForModel is NewTokenCounter that degrades to the character estimate on error.
func ForModel(model string) *TokenCounter {
	tc, err := NewTokenCounter(model)
	if err != nil {
		return nil
	}
	return tc
}

// CountTokens returns the number of tokens in text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountMessages estimates a chat request: each message's content plus framing.
func (tc *TokenCounter) CountMessages(contents ...string) int {
	total := tokensPerReply
	for _, c := range contents {
		total += tokensPerMessage + tc.CountTokens(c)
	}
	return total
}

// CountTokensSimple counts text with the default cl100k counter.
func CountTokensSimple(text string) int {
	return ForModel("").CountTokens(text)
}

// TruncateToTokenLimit keeps the first limit tokens of text and appends "..."
// when anything was cut. A nil counter cuts by the character estimate.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if tc == nil || tc.codec == nil {
		if len(text) <= limit*4 {
			return text
		}
		return text[:limit*4] + "..."
	}

	ids, _, err := tc.codec.Encode(text)
	if err != nil || len(ids) <= limit {
		return text
	}
	head, err := tc.codec.Decode(ids[:limit])
	if err != nil {
		return text
	}
	return head + "..."
}
