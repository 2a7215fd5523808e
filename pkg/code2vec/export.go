// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gomlx/code2vec/pkg/vocab"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// embeddingVariable returns the scope and name of the variable holding the embeddings of the vocabulary type,
// and whether it is stored transposed ([width, vocabulary size]).
func embeddingVariable(vocabType vocab.Type) (scope, name string, transposed bool) {
	switch vocabType {
	case vocab.TypeToken:
		return absScope(ModelScope, TokenEmbeddingScope), EmbeddingsVariableName, false
	case vocab.TypePath:
		return absScope(ModelScope, PathEmbeddingScope), EmbeddingsVariableName, false
	case vocab.TypeTarget:
		return absScope(ModelScope, TargetProjectionScope, DenseScope), DenseWeightsVariableName, true
	}
	exceptions.Panicf("unknown vocabulary type %s", vocabType)
	return
}

// VocabEmbedding returns the embedding matrix of the vocabulary type, shaped [vocabulary size, width]:
// the embedding tables for tokens and paths, and the transposed output projection for targets.
//
// It panics if the variable shape doesn't match the vocabulary size.
func (m *Model) VocabEmbedding(vocabType vocab.Type) (*mat.Dense, error) {
	if err := m.checkState("VocabEmbedding", StateBuilt); err != nil {
		return nil, err
	}
	scope, name, transposed := embeddingVariable(vocabType)
	v := m.rootCtx.GetVariableByScopeAndName(scope, name)
	if v == nil {
		return nil, errors.Errorf("variable %q not found", variablePath(scope, name))
	}
	dims := v.Shape().Dimensions
	vocabSize := m.vocabs.Get(vocabType).Size()
	if len(dims) != 2 {
		exceptions.Panicf("embedding variable %q should have rank 2, got shape %s", variablePath(scope, name), v.Shape())
	}
	rows, cols := dims[0], dims[1]
	if transposed {
		rows, cols = cols, rows
	}
	if rows != vocabSize {
		exceptions.Panicf("embedding variable %q has shape %s, which doesn't match the %s vocabulary size %d",
			variablePath(scope, name), v.Shape(), vocabType, vocabSize)
	}
	value, err := v.Value()
	if err != nil {
		return nil, err
	}
	flat := tensors.MustCopyFlatData[float32](value)
	data := make([]float64, len(flat))
	for ii, x := range flat {
		data[ii] = float64(x)
	}
	if transposed {
		return mat.DenseCopyOf(mat.NewDense(dims[0], dims[1], data).T()), nil
	}
	return mat.NewDense(rows, cols, data), nil
}

// absScope joins the scope names into an absolute scope.
func absScope(names ...string) string {
	return context.ScopeSeparator + strings.Join(names, context.ScopeSeparator)
}

// SaveWord2VecFormat writes the embeddings of the vocabulary type in the word2vec text format:
// a header line "<vocabulary size> <width>" followed by one line per word with its vector.
func (m *Model) SaveWord2VecFormat(w io.Writer, vocabType vocab.Type) error {
	embeddings, err := m.VocabEmbedding(vocabType)
	if err != nil {
		return err
	}
	words := m.vocabs.Get(vocabType).Words()
	rows, cols := embeddings.Dims()
	buf := bufio.NewWriter(w)
	if _, err = fmt.Fprintf(buf, "%d %d\n", rows, cols); err != nil {
		return errors.Wrap(err, "failed to write word2vec header")
	}
	for row := range rows {
		line := make([]byte, 0, 16*cols)
		line = append(line, words[row]...)
		for col := range cols {
			line = append(line, ' ')
			line = strconv.AppendFloat(line, embeddings.At(row, col), 'g', -1, 32)
		}
		line = append(line, '\n')
		if _, err = buf.Write(line); err != nil {
			return errors.Wrapf(err, "failed to write word2vec vector of %q", words[row])
		}
	}
	return errors.Wrap(buf.Flush(), "failed to write word2vec vectors")
}
