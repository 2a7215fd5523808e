// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reader

import (
	"strings"

	"github.com/gomlx/code2vec/pkg/vocab"
	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Context holds the words of one path-context, as read from the input.
type Context struct {
	Source, Path, Target string
}

// Example is one parsed line of path-contexts: all slices have length MaxContexts.
type Example struct {
	// TargetName is the raw name to predict, the first field of the line.
	TargetName  string
	TargetIndex int32

	// SourceIndices, PathIndices and TargetIndices are the vocabulary indices of each context.
	SourceIndices, PathIndices, TargetIndices []int32

	// Mask is 1 where the context is valid, 0 on padding.
	Mask []float32

	// Contexts holds the words of each context. Padding positions are empty.
	Contexts []Context
}

// NumValidContexts returns the number of valid (non-padding) contexts.
func (e *Example) NumValidContexts() int {
	count := 0
	for _, m := range e.Mask {
		if m > 0 {
			count++
		}
	}
	return count
}

// Parser converts lines of path-contexts to Example, and examples to tensors.
// It is immutable and safe for concurrent use.
type Parser struct {
	vocabs      *vocab.Vocabularies
	maxContexts int
}

// NewParser creates a Parser that keeps at most maxContexts contexts per example.
func NewParser(vocabs *vocab.Vocabularies, maxContexts int) *Parser {
	return &Parser{vocabs: vocabs, maxContexts: maxContexts}
}

// MaxContexts returns the fixed number of contexts of the examples.
func (p *Parser) MaxContexts() int { return p.maxContexts }

// ParseLine parses one line with the format "<target> <source>,<path>,<target-token> ...", space separated.
//
// Missing or empty contexts become padding, and the contexts past MaxContexts are dropped.
// Unknown words are mapped to the OOV index of their vocabulary.
// A context is valid if any of its three indices is not the padding index.
func (p *Parser) ParseLine(line string) *Example {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, " ")
	e := &Example{
		TargetName:    fields[0],
		SourceIndices: make([]int32, p.maxContexts),
		PathIndices:   make([]int32, p.maxContexts),
		TargetIndices: make([]int32, p.maxContexts),
		Mask:          make([]float32, p.maxContexts),
		Contexts:      make([]Context, p.maxContexts),
	}
	e.TargetIndex = int32(p.vocabs.Target.Lookup(e.TargetName))
	tokenPad := int32(p.vocabs.Token.PadIndex())
	pathPad := int32(p.vocabs.Path.PadIndex())
	contexts := fields[1:]
	for ii := range p.maxContexts {
		e.SourceIndices[ii], e.PathIndices[ii], e.TargetIndices[ii] = tokenPad, pathPad, tokenPad
		if ii >= len(contexts) {
			continue
		}
		parts := strings.Split(contexts[ii], ",")
		if len(parts) != 3 {
			continue
		}
		e.SourceIndices[ii] = p.lookup(p.vocabs.Token, parts[0])
		e.PathIndices[ii] = p.lookup(p.vocabs.Path, parts[1])
		e.TargetIndices[ii] = p.lookup(p.vocabs.Token, parts[2])
		if e.SourceIndices[ii] != tokenPad || e.PathIndices[ii] != pathPad || e.TargetIndices[ii] != tokenPad {
			e.Mask[ii] = 1
			e.Contexts[ii] = Context{Source: parts[0], Path: parts[1], Target: parts[2]}
		}
	}
	return e
}

// lookup maps empty words to padding, and unknown words to OOV.
func (p *Parser) lookup(v *vocab.Vocabulary, word string) int32 {
	if word == "" {
		return int32(v.PadIndex())
	}
	return int32(v.Lookup(word))
}

// Inputs converts the examples to the model inputs: source indices, path indices, target indices
// (all int32 shaped [batch, MaxContexts]) and the mask (float32 shaped [batch, MaxContexts]).
func (p *Parser) Inputs(examples []*Example) []*tensors.Tensor {
	batchSize := len(examples)
	numValues := batchSize * p.maxContexts
	sources := make([]int32, 0, numValues)
	paths := make([]int32, 0, numValues)
	targets := make([]int32, 0, numValues)
	mask := make([]float32, 0, numValues)
	for _, e := range examples {
		sources = append(sources, e.SourceIndices...)
		paths = append(paths, e.PathIndices...)
		targets = append(targets, e.TargetIndices...)
		mask = append(mask, e.Mask...)
	}
	return []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(sources, batchSize, p.maxContexts),
		tensors.FromFlatDataAndDimensions(paths, batchSize, p.maxContexts),
		tensors.FromFlatDataAndDimensions(targets, batchSize, p.maxContexts),
		tensors.FromFlatDataAndDimensions(mask, batchSize, p.maxContexts),
	}
}

// Labels converts the examples' target indices to the labels tensor, int32 shaped [batch, 1].
func (p *Parser) Labels(examples []*Example) *tensors.Tensor {
	labels := make([]int32, len(examples))
	for ii, e := range examples {
		labels[ii] = e.TargetIndex
	}
	return tensors.FromFlatDataAndDimensions(labels, len(examples), 1)
}
