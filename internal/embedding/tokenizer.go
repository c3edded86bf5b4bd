package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Special token ids of the BERT uncased vocabulary used by MiniLM models.
const (
	clsToken  = 101
	sepToken  = 102
	vocabSize = 30522
	// Hashed ids start above the reserved and special token range.
	firstWordToken = 1000
)

// Tokenizer produces BERT-style model inputs.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer lowercases text, splits it into words and punctuation, and
// hashes each piece into the vocabulary range. It does not reproduce WordPiece
// ids, but it is deterministic and needs no vocabulary file.
type HashTokenizer struct{}

// Tokenize returns inputs padded to maxTokens: [CLS] pieces... [SEP] 0...
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1
	pos := 1
	for _, piece := range SplitWords(strings.ToLower(text)) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = pieceID(piece)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

func pieceID(piece string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(piece))
	return firstWordToken + int64(h.Sum32()%(vocabSize-firstWordToken))
}

// SplitWords splits text into words and single punctuation marks, dropping whitespace.
func SplitWords(text string) []string {
	var words []string
	start := -1
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			if start >= 0 {
				words = append(words, text[start:i])
				start = -1
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			if start >= 0 {
				words = append(words, text[start:i])
				start = -1
			}
			words = append(words, string(r))
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		words = append(words, text[start:])
	}
	return words
}
