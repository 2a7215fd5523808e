// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"regexp"

	"github.com/gomlx/code2vec/pkg/vocab"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// WordFilter returns whether a target word, given with its index in the target vocabulary, can be predicted.
type WordFilter func(index int, word string) bool

// FilterOOV excludes the OOV word of the vocabulary.
func FilterOOV(v *vocab.Vocabulary) WordFilter {
	oovIdx := v.OOVIndex()
	return func(index int, _ string) bool { return index != oovIdx }
}

var legalWordRegex = regexp.MustCompile(`^[a-zA-Z|]+$`)

// FilterLegalWord keeps only words made of alphabetic subtokens, separated by "|".
func FilterLegalWord(_ int, word string) bool {
	return legalWordRegex.MatchString(word)
}

// WordProbability is one predicted word.
type WordProbability struct {
	Word        string
	Probability float32
}

// Predictor selects the top-k target words from the network's probabilities, among the words accepted
// by all its filters.
//
// Filters are evaluated once for every word of the target vocabulary, when the Predictor is created,
// and the top-k is taken from the filtered distribution: rejected words never take a slot.
type Predictor struct {
	vocab *vocab.Vocabulary
	k     int
	keep  []bool
}

// NewPredictor creates a Predictor of the k most probable words of the target vocabulary.
// If no filters are given, it uses FilterOOV and FilterLegalWord.
func NewPredictor(targetVocab *vocab.Vocabulary, k int, filters ...WordFilter) *Predictor {
	if len(filters) == 0 {
		filters = []WordFilter{FilterOOV(targetVocab), FilterLegalWord}
	}
	p := &Predictor{vocab: targetVocab, k: k, keep: make([]bool, targetVocab.Size())}
	for idx, word := range targetVocab.Words() {
		p.keep[idx] = true
		for _, filter := range filters {
			if !filter(idx, word) {
				p.keep[idx] = false
				break
			}
		}
	}
	return p
}

// K is the number of words predicted per example.
func (p *Predictor) K() int { return p.k }

// NumKept returns the number of target words accepted by the filters.
func (p *Predictor) NumKept() int {
	count := 0
	for _, keep := range p.keep {
		if keep {
			count++
		}
	}
	return count
}

// TopK returns the indices (int32) and the probabilities of the k most probable words accepted by the
// filters, both shaped [batch, k], in decreasing order of probability.
//
// Slots with no accepted word left get a negative probability. See Decode.
func (p *Predictor) TopK(probs *Node) (indices, scores *Node) {
	g := probs.Graph()
	dtype := probs.DType()
	dims := probs.Shape().Dimensions
	keep := BroadcastToDims(InsertAxes(Const(g, p.keep), 0), dims...)
	rejected := BroadcastToDims(Scalar(g, dtype, -1), dims...)
	k := min(p.k, dims[1])
	scores, indices = TopK(Where(keep, probs, rejected), k, -1)
	indices = ConvertDType(indices, dtypes.Int32)
	if k < p.k {
		// Vocabulary smaller than k: pad with rejected slots.
		scores = Concatenate([]*Node{scores, BroadcastToDims(Scalar(g, dtype, -1), dims[0], p.k-k)}, -1)
		indices = Concatenate([]*Node{indices, Zeros(g, shapes.Make(dtypes.Int32, dims[0], p.k-k))}, -1)
	}
	return
}

// Decode converts one example's top-k indices and scores, as returned by TopK, to words.
// Slots without an accepted word are filled with vocab.OOVWord and probability 0.
func (p *Predictor) Decode(indices []int32, scores []float32) []WordProbability {
	words := make([]WordProbability, len(indices))
	for ii, idx := range indices {
		if scores[ii] < 0 {
			words[ii] = WordProbability{Word: vocab.OOVWord}
			continue
		}
		words[ii] = WordProbability{Word: p.vocab.IndexToWord(int(idx)), Probability: scores[ii]}
	}
	return words
}
