// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"testing"

	"github.com/gomlx/code2vec/pkg/vocab"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
)

func TestTopKAccuracyGraph(t *testing.T) {
	targets := must.M1(vocab.New(vocab.TypeTarget, []string{"get|value", "set|value", "to_string", "size", "is|empty"}))
	p := NewPredictor(targets, 2)
	backend := graphtest.BuildTestBackend()
	exec := context.MustNewExec(backend, context.New(), func(ctx *context.Context, inputs []*Node) []*Node {
		return []*Node{p.TopKAccuracyGraph(2)(ctx, inputs[:1], inputs[1:])}
	})
	labels := [][]int32{{4}, {2}, {5}}
	logits := [][]float32{
		{5, 1, 0.5, 4, 3, 0}, // Higher logits are all filtered out (OOV and "to_string"): hit.
		{0, 3, 2, 1, 0.5, 4}, // Two accepted words rank higher: miss.
		{0, 1, 1, 1, 1, 1},   // Ties count as hits.
	}
	accuracy := tensors.ToScalar[float32](exec.MustExec(labels, logits)[0])
	assert.InDelta(t, 2.0/3.0, accuracy, 1e-6)
}
