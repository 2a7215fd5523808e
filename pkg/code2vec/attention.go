// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// AttentionVariableName is the name of the learned attention vector, in the attention scope.
const AttentionVariableName = "weights"

// maskedScore is given to the attention score of masked contexts before the softmax.
// It is finite, so an example with all contexts masked doesn't produce NaNs.
const maskedScore = -1e9

// Attention aggregates the context vectors, shaped [batch, numContexts, dim], into one code vector per example,
// shaped [batch, dim], weighting them by the softmax of their inner product with a learned vector.
//
// The mask, shaped [batch, numContexts], is 1 for valid contexts and 0 for padding: padding gets an attention
// weight of exactly 0, and an example with no valid context gets all weights 0, and hence a zero code vector.
//
// It returns the code vectors and the attention weights, shaped [batch, numContexts].
func Attention(ctx *context.Context, contextVectors, mask *Node) (codeVectors, weights *Node) {
	g := contextVectors.Graph()
	dtype := contextVectors.DType()
	dim := contextVectors.Shape().Dimensions[contextVectors.Rank()-1]
	attentionVar := ctx.VariableWithShape(AttentionVariableName, shapes.Make(dtype, dim))
	scores := Einsum("bcd,d->bc", contextVectors, attentionVar.ValueGraph(g))

	mask = ConvertDType(mask, dtype)
	valid := GreaterThan(mask, ZerosLike(mask))
	masked := BroadcastToDims(Scalar(g, dtype, maskedScore), scores.Shape().Dimensions...)
	scores = Where(valid, scores, masked)
	weights = Mul(Softmax(scores, -1), mask)
	codeVectors = Einsum("bc,bcd->bd", weights, contextVectors)
	return
}

