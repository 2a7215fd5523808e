// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vocab implements the three closed vocabularies used by code2vec: tokens (the terminals
// at both ends of a path-context), syntactic paths and targets (method names).
//
// Each vocabulary maps words to dense indices and back. Special words are reserved at the start
// of each vocabulary: token and path vocabularies use PadWord at index 0 and OOVWord at index 1,
// while the target vocabulary only has OOVWord at index 0, since padding never appears as a target.
package vocab

import (
	"cmp"
	"slices"

	"github.com/pkg/errors"
)

// Type of vocabulary.
type Type int

const (
	TypeToken Type = iota
	TypePath
	TypeTarget
)

//go:generate go tool enumer -type=Type -trimprefix=Type -output=gen_type_enumer.go vocab.go

const (
	// PadWord is the special word used for padding contexts.
	PadWord = "<PAD>"

	// OOVWord is the special word any unknown word is mapped to.
	OOVWord = "<OOV>"
)

// SpecialWords returns the reserved words at the start of a vocabulary of the given type.
func SpecialWords(t Type) []string {
	if t == TypeTarget {
		return []string{OOVWord}
	}
	return []string{PadWord, OOVWord}
}

// Vocabulary is an immutable bidirectional mapping between words and indices.
type Vocabulary struct {
	vocabType Type
	words     []string
	wordToIdx map[string]int
	oovIdx    int
	padIdx    int
}

// New creates a Vocabulary of the given type with the special words (see SpecialWords) followed by words.
//
// It returns an error if words has duplicates or includes a special word.
func New(vocabType Type, words []string) (*Vocabulary, error) {
	special := SpecialWords(vocabType)
	v := &Vocabulary{
		vocabType: vocabType,
		words:     make([]string, 0, len(special)+len(words)),
		wordToIdx: make(map[string]int, len(special)+len(words)),
		padIdx:    -1,
	}
	for _, word := range special {
		v.wordToIdx[word] = len(v.words)
		v.words = append(v.words, word)
	}
	v.oovIdx = v.wordToIdx[OOVWord]
	if idx, found := v.wordToIdx[PadWord]; found {
		v.padIdx = idx
	}
	for _, word := range words {
		if _, found := v.wordToIdx[word]; found {
			return nil, errors.Errorf("%s vocabulary: word %q is duplicate or reserved", vocabType, word)
		}
		v.wordToIdx[word] = len(v.words)
		v.words = append(v.words, word)
	}
	return v, nil
}

// FromWordCounts creates a Vocabulary with the maxSize most frequent words of wordCounts, plus the special words.
// Ties are broken by the word, so the result is deterministic.
func FromWordCounts(vocabType Type, wordCounts map[string]int, maxSize int) (*Vocabulary, error) {
	type wordCount struct {
		word  string
		count int
	}
	counts := make([]wordCount, 0, len(wordCounts))
	for word, count := range wordCounts {
		counts = append(counts, wordCount{word, count})
	}
	slices.SortFunc(counts, func(a, b wordCount) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.word, b.word)
	})
	if maxSize >= 0 && len(counts) > maxSize {
		counts = counts[:maxSize]
	}
	words := make([]string, len(counts))
	for ii, wc := range counts {
		words[ii] = wc.word
	}
	return New(vocabType, words)
}

// Type of the vocabulary.
func (v *Vocabulary) Type() Type { return v.vocabType }

// Size is the number of words, including the special words.
func (v *Vocabulary) Size() int { return len(v.words) }

// WordToIndex returns the index of word, and whether it was found.
func (v *Vocabulary) WordToIndex(word string) (int, bool) {
	idx, found := v.wordToIdx[word]
	return idx, found
}

// Lookup returns the index of word, or the OOV index if the word is unknown.
func (v *Vocabulary) Lookup(word string) int {
	if idx, found := v.wordToIdx[word]; found {
		return idx
	}
	return v.oovIdx
}

// IndexToWord returns the word for the index. Out-of-range indices return OOVWord.
func (v *Vocabulary) IndexToWord(idx int) string {
	if idx < 0 || idx >= len(v.words) {
		return OOVWord
	}
	return v.words[idx]
}

// OOVIndex is the index of OOVWord.
func (v *Vocabulary) OOVIndex() int { return v.oovIdx }

// PadIndex is the index of PadWord, or -1 for the target vocabulary, which has no padding.
func (v *Vocabulary) PadIndex() int { return v.padIdx }

// Words returns all the words, special ones included, in index order. The returned slice must not be changed.
func (v *Vocabulary) Words() []string { return v.words }

// regularWords are the words after the special ones: that's what gets persisted.
func (v *Vocabulary) regularWords() []string {
	return v.words[len(SpecialWords(v.vocabType)):]
}
