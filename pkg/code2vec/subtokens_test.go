// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"testing"

	"github.com/gomlx/code2vec/pkg/vocab"
	"github.com/stretchr/testify/assert"
)

func TestSubtokensMetrics(t *testing.T) {
	var m SubtokensMetrics
	assert.Equal(t, 0.0, m.F1(), "no data")

	m.Update("get|value", "get|data")
	assert.Equal(t, SubtokensMetrics{TruePositives: 1, FalsePositives: 1, FalseNegatives: 1}, m)
	assert.InDelta(t, 0.5, m.Precision(), 1e-9)
	assert.InDelta(t, 0.5, m.Recall(), 1e-9)
	assert.InDelta(t, 0.5, m.F1(), 1e-9)

	// Ignored pairs, and OOV counting as an empty prediction.
	m.Reset()
	m.Update("get|value", "")
	m.Update("get|value", vocab.PadWord)
	assert.Equal(t, SubtokensMetrics{}, m)
	m.Update(vocab.OOVWord, "get|value")
	assert.Equal(t, SubtokensMetrics{FalseNegatives: 2}, m)
	assert.Equal(t, 0.0, m.Precision())
	assert.Equal(t, 0.0, m.F1())

	// Subtokens are compared as sets.
	m.Reset()
	m.Update("value|get|get", "get|value")
	assert.Equal(t, SubtokensMetrics{TruePositives: 2}, m)
	assert.InDelta(t, 1.0, m.F1(), 1e-9)
}

func TestSubtokensMetricsOrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{"get|value", "get|data"},
		{"size", "size"},
		{vocab.OOVWord, "is|empty"},
		{"set|name|value", "set|name"},
		{"to|string", "to|json"},
	}
	var forward, backward SubtokensMetrics
	for _, pair := range pairs {
		forward.Update(pair[0], pair[1])
	}
	for ii := len(pairs) - 1; ii >= 0; ii-- {
		backward.Update(pairs[ii][0], pairs[ii][1])
	}
	assert.Equal(t, forward, backward)
	assert.Equal(t, forward.F1(), backward.F1())
}

func TestSplitSubtokens(t *testing.T) {
	assert.Equal(t, []string{"get", "value"}, SplitSubtokens("get|value"))
	assert.Equal(t, []string{"get", "value"}, SplitSubtokens("|get||value|"))
	assert.Empty(t, SplitSubtokens(""))
}
