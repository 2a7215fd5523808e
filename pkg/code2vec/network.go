// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"github.com/gomlx/code2vec/pkg/config"
	"github.com/gomlx/code2vec/pkg/vocab"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gopjrt/dtypes"
)

// DType of the model weights and activations.
var DType = dtypes.Float32

// Scopes of the model variables, all under ModelScope.
const (
	ModelScope            = "model"
	TokenEmbeddingScope   = "token_embedding"
	PathEmbeddingScope    = "path_embedding"
	ContextDenseScope     = "context_dense"
	AttentionScope        = "attention"
	TargetProjectionScope = "target_projection"

	// EmbeddingsVariableName is the name layers.Embedding gives to the embedding tables.
	EmbeddingsVariableName = "embeddings"

	// DenseScope and DenseWeightsVariableName are the scope and name layers.Dense gives to its weights.
	DenseScope               = "dense"
	DenseWeightsVariableName = "weights"
)

// VocabSizes are the sizes of the three vocabularies, the only thing the network needs from them.
type VocabSizes struct {
	Token, Path, Target int
}

// SizesOf returns the sizes of the vocabularies.
func SizesOf(vocabs *vocab.Vocabularies) VocabSizes {
	return VocabSizes{Token: vocabs.Token.Size(), Path: vocabs.Path.Size(), Target: vocabs.Target.Size()}
}

// Network holds the outputs of the code2vec network for a batch.
type Network struct {
	// Logits over the target vocabulary, shaped [batch, |target vocabulary|].
	Logits *Node

	// CodeVectors shaped [batch, CodeVectorSize].
	CodeVectors *Node

	// AttentionWeights shaped [batch, MaxContexts]: 0 on masked contexts.
	AttentionWeights *Node
}

// Probabilities returns the softmax of the logits.
func (n Network) Probabilities() *Node {
	return Softmax(n.Logits, -1)
}

// BuildNetwork builds the code2vec network. It is a pure function of the configuration and the vocabulary sizes:
// the variables are created (or reused) in ctx.
//
// Inputs are the source token indices, path indices and target token indices, all integers shaped
// [batch, MaxContexts], and the mask, shaped [batch, MaxContexts], 1 for valid contexts and 0 for padding.
//
// Dropout is only applied when ctx.IsTraining(g).
func BuildNetwork(ctx *context.Context, cfg config.Config, sizes VocabSizes, sources, paths, targets, mask *Node) Network {
	// Token embeddings are shared by the source and target tokens.
	tokenCtx := ctx.In(TokenEmbeddingScope).Checked(false)
	sourceEmbed := layers.Embedding(tokenCtx, InsertAxes(sources, -1), DType, sizes.Token, cfg.TokenEmbeddingsSize)
	targetEmbed := layers.Embedding(tokenCtx, InsertAxes(targets, -1), DType, sizes.Token, cfg.TokenEmbeddingsSize)
	pathEmbed := layers.Embedding(ctx.In(PathEmbeddingScope), InsertAxes(paths, -1), DType, sizes.Path, cfg.PathEmbeddingsSize)

	// [batch, MaxContexts, ContextEmbeddingsSize]
	contextEmbed := Concatenate([]*Node{sourceEmbed, pathEmbed, targetEmbed}, -1)
	if cfg.DropoutKeepRate < 1 {
		contextEmbed = layers.DropoutStatic(ctx, contextEmbed, 1-cfg.DropoutKeepRate)
	}

	// Same projection for every context: [batch, MaxContexts, CodeVectorSize].
	contextVectors := Tanh(layers.Dense(ctx.In(ContextDenseScope), contextEmbed, false, cfg.CodeVectorSize()))

	codeVectors, weights := Attention(ctx.In(AttentionScope), contextVectors, ConvertDType(mask, DType))
	logits := layers.Dense(ctx.In(TargetProjectionScope), codeVectors, false, sizes.Target)
	return Network{Logits: logits, CodeVectors: codeVectors, AttentionWeights: weights}
}
