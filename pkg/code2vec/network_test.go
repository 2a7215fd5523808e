// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"testing"

	"github.com/gomlx/code2vec/pkg/config"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestAttention(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) []*Node {
		codeVectors, weights := Attention(ctx.In(AttentionScope), inputs[0], inputs[1])
		return []*Node{codeVectors, weights}
	})
	contextVectors := [][][]float32{
		{{1, 2}, {3, 4}, {5, 6}},
		{{1, 0}, {0, 1}, {7, 7}},
		{{1, 1}, {2, 2}, {3, 3}},
	}
	mask := [][]float32{
		{1, 0, 1},
		{0, 1, 0},
		{0, 0, 0},
	}
	outputs := exec.MustExec(contextVectors, mask)
	codeVectors := outputs[0].Value().([][]float32)
	weights := outputs[1].Value().([][]float32)
	require.Len(t, weights, 3)

	for ii := range mask {
		sum := float32(0)
		for jj, m := range mask[ii] {
			if m == 0 {
				assert.Equalf(t, float32(0), weights[ii][jj], "masked context (%d, %d) must have weight 0", ii, jj)
			}
			sum += weights[ii][jj]
		}
		if ii < 2 {
			assert.InDelta(t, 1.0, sum, 1e-5)
		}
	}

	// A single valid context takes all the attention.
	assert.InDelta(t, 1.0, weights[1][1], 1e-6)
	assert.InDeltaSlice(t, []float32{0, 1}, codeVectors[1], 1e-6)

	// No valid contexts: zero code vector, no NaNs.
	assert.Equal(t, []float32{0, 0, 0}, weights[2])
	assert.Equal(t, []float32{0, 0}, codeVectors[2])
}

func testNetworkConfig(t *testing.T, maxContexts int) config.Config {
	ctx := context.New()
	config.SetDefaultParams(ctx)
	ctx.SetParams(map[string]any{
		config.ParamMaxContexts:         maxContexts,
		config.ParamTokenEmbeddingsSize: 3,
		config.ParamPathEmbeddingsSize:  2,
		config.ParamDropoutKeepRate:     1.0,
	})
	cfg, err := config.New(ctx, config.Paths{TrainDataPathPrefix: "unused"})
	require.NoError(t, err)
	return cfg
}

func TestBuildNetwork(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := testNetworkConfig(t, 4)
	require.Equal(t, 8, cfg.CodeVectorSize())
	sizes := VocabSizes{Token: 5, Path: 4, Target: 6}
	ctx := context.New()
	exec := context.MustNewExec(backend, ctx.In(ModelScope), func(ctx *context.Context, inputs []*Node) []*Node {
		net := BuildNetwork(ctx, cfg, sizes, inputs[0], inputs[1], inputs[2], inputs[3])
		return []*Node{net.Logits, net.CodeVectors, net.AttentionWeights, net.Probabilities()}
	})
	sources := [][]int32{{2, 3, 0, 0}, {0, 0, 0, 0}}
	paths := [][]int32{{2, 1, 0, 0}, {0, 0, 0, 0}}
	targets := [][]int32{{4, 2, 0, 0}, {0, 0, 0, 0}}
	mask := [][]float32{{1, 1, 0, 0}, {0, 0, 0, 0}}
	outputs := exec.MustExec(sources, paths, targets, mask)
	assert.Equal(t, []int{2, 6}, outputs[0].Shape().Dimensions)
	// Code-vector width doesn't depend on the number of valid contexts.
	assert.Equal(t, []int{2, 8}, outputs[1].Shape().Dimensions)
	assert.Equal(t, []int{2, 4}, outputs[2].Shape().Dimensions)
	for _, probs := range outputs[3].Value().([][]float32) {
		sum := float32(0)
		for _, p := range probs {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
	assert.Equal(t, make([]float32, 8), tensors.MustCopyFlatData[float32](outputs[1])[8:])

	// Token embeddings are shared by sources and targets.
	numEmbeddingTables := 0
	for v := range ctx.IterVariables() {
		if v.Name() == EmbeddingsVariableName {
			numEmbeddingTables++
		}
	}
	assert.Equal(t, 2, numEmbeddingTables)
	tokenVar := ctx.GetVariableByScopeAndName(absScope(ModelScope, TokenEmbeddingScope), EmbeddingsVariableName)
	require.NotNil(t, tokenVar)
	assert.Equal(t, []int{5, 3}, tokenVar.Shape().Dimensions)
}
