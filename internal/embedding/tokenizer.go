package embedding

import (
	"hash/fnv"
	"strings"
)

const (
	clsTokenID   = 101
	sepTokenID   = 102
	vocabBuckets = 30000
)

// Tokenizer produces BERT-style model inputs (input_ids, attention_mask,
// token_type_ids), each padded to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// WordTokenizer splits on whitespace and maps each lower-cased word to a
// hashed vocabulary id. It does not need a vocabulary file.
type WordTokenizer struct{}

// Tokenize wraps the words in [CLS] ... [SEP], truncating to fit maxTokens.
func (t *WordTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1
	pos := 1
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = wordID(word)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepTokenID
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// wordID maps a word into [1000, 1000+vocabBuckets), above the special tokens.
func wordID(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return 1000 + int64(h.Sum32()%vocabBuckets)
}
