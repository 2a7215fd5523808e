// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"fmt"
	"strings"

	"github.com/gomlx/code2vec/pkg/vocab"
)

// SubtokenSeparator separates the subtokens of a name, e.g. "get|value".
const SubtokenSeparator = "|"

// SplitSubtokens returns the non-empty subtokens of name.
func SplitSubtokens(name string) []string {
	parts := strings.Split(name, SubtokenSeparator)
	subtokens := parts[:0]
	for _, part := range parts {
		if part != "" {
			subtokens = append(subtokens, part)
		}
	}
	return subtokens
}

// SubtokensMetrics accumulates the true positives, false positives and false negatives of the subtokens of
// predicted names against the true names, until Reset is called.
//
// The zero value is ready to use.
type SubtokensMetrics struct {
	TruePositives, FalsePositives, FalseNegatives int
}

// Update accounts for one (predicted, true) pair of names.
//
// Pairs whose true name is empty or the padding word are ignored. A predicted OOV word (no prediction)
// counts as an empty prediction.
func (m *SubtokensMetrics) Update(predicted, target string) {
	if target == "" || target == vocab.PadWord {
		return
	}
	if predicted == vocab.OOVWord {
		predicted = ""
	}
	predictedSet := make(map[string]bool)
	for _, subtoken := range SplitSubtokens(predicted) {
		predictedSet[subtoken] = true
	}
	targetSet := make(map[string]bool)
	for _, subtoken := range SplitSubtokens(target) {
		targetSet[subtoken] = true
	}
	for subtoken := range predictedSet {
		if targetSet[subtoken] {
			m.TruePositives++
		} else {
			m.FalsePositives++
		}
	}
	for subtoken := range targetSet {
		if !predictedSet[subtoken] {
			m.FalseNegatives++
		}
	}
}

// Reset the counters.
func (m *SubtokensMetrics) Reset() {
	*m = SubtokensMetrics{}
}

// Precision is TP/(TP+FP), or 0 if there were no predicted subtokens.
func (m *SubtokensMetrics) Precision() float64 {
	return safeDiv(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is TP/(TP+FN), or 0 if there were no true subtokens.
func (m *SubtokensMetrics) Recall() float64 {
	return safeDiv(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of Precision and Recall, or 0 if both are 0.
func (m *SubtokensMetrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func (m *SubtokensMetrics) String() string {
	return fmt.Sprintf("precision=%.4f, recall=%.4f, F1=%.4f", m.Precision(), m.Recall(), m.F1())
}

func safeDiv(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
