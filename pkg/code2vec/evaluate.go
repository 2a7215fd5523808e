// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gomlx/code2vec/internal/atomicfile"
	"github.com/gomlx/code2vec/pkg/reader"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// VectorsFileSuffix is appended to the test data path for the file of exported code vectors.
const VectorsFileSuffix = ".vectors"

// EvaluationResults of the model on the test data.
type EvaluationResults struct {
	NumExamples int

	// Loss is the mean cross-entropy loss.
	Loss float64

	// TopKAccuracy[k-1] is the fraction of examples whose true name is among the k first predicted words.
	TopKAccuracy []float64

	// Subtoken metrics of the first predicted word.
	Precision, Recall, F1 float64
}

func (r *EvaluationResults) String() string {
	var topK string
	if len(r.TopKAccuracy) > 0 {
		topK = fmt.Sprintf(", top-1 accuracy=%.4f, top-%d accuracy=%.4f",
			r.TopKAccuracy[0], len(r.TopKAccuracy), r.TopKAccuracy[len(r.TopKAccuracy)-1])
	}
	return fmt.Sprintf("loss=%.4f%s, precision=%.4f, recall=%.4f, F1=%.4f (%d examples)",
		r.Loss, topK, r.Precision, r.Recall, r.F1, r.NumExamples)
}

// Evaluate the model on one full pass over the test data.
//
// If Config.ExportCodeVectors is set, the code vector of every example evaluated is written,
// one per line, to the test data path suffixed with VectorsFileSuffix.
func (m *Model) Evaluate() (*EvaluationResults, error) {
	if err := m.checkState("Evaluate", StateBuilt); err != nil {
		return nil, err
	}
	if !m.cfg.IsTesting() {
		return nil, errors.New("Evaluate() requires test data")
	}
	m.state = StateEvaluating
	defer func() { m.state = StateBuilt }()

	r, err := reader.New(m.cfg, m.vocabs, reader.ModeEvaluate, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	if !m.cfg.ExportCodeVectors {
		return m.evaluateSteps(r, -1, nil)
	}
	var results *EvaluationResults
	vectorsPath := m.cfg.TestDataPath + VectorsFileSuffix
	err = atomicfile.Write(vectorsPath, func(w io.Writer) error {
		var err error
		results, err = m.evaluateSteps(r, -1, w)
		return err
	})
	if err != nil {
		return nil, err
	}
	klog.Infof("code vectors written to %q", vectorsPath)
	return results, nil
}

// evaluateSteps evaluates up to maxSteps batches of the reader, or until the end of the data if maxSteps < 0.
// If vectorsWriter is not nil, the code vectors are written to it.
func (m *Model) evaluateSteps(r *reader.Reader, maxSteps int, vectorsWriter io.Writer) (*EvaluationResults, error) {
	k := m.predictor.K()
	hits := make([]int, k)
	var subtokens SubtokensMetrics
	var lossSum float64
	numExamples := 0
	for step := 0; maxSteps < 0 || step < maxSteps; step++ {
		spec, inputs, labels, err := r.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		targets := spec.(reader.Targets)
		outputs, err := m.evalExec.Exec(inputs[0], inputs[1], inputs[2], inputs[3], labels[0])
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluation step %d", step)
		}
		lossSum += float64(tensors.ToScalar[float32](outputs[0]))
		indices := tensors.MustCopyFlatData[int32](outputs[1])
		scores := tensors.MustCopyFlatData[float32](outputs[2])
		for ii, target := range targets {
			words := m.predictor.Decode(indices[ii*k:(ii+1)*k], scores[ii*k:(ii+1)*k])
			for rank, word := range words {
				if word.Word == target {
					for jj := rank; jj < k; jj++ {
						hits[jj]++
					}
					break
				}
			}
			subtokens.Update(words[0].Word, target)
		}
		if vectorsWriter != nil {
			if err = writeCodeVectors(vectorsWriter, outputs[3]); err != nil {
				return nil, err
			}
		}
		numExamples += len(targets)
		finalizeAll(outputs, inputs, labels)
	}
	results := &EvaluationResults{
		NumExamples:  numExamples,
		TopKAccuracy: make([]float64, k),
		Precision:    subtokens.Precision(),
		Recall:       subtokens.Recall(),
		F1:           subtokens.F1(),
	}
	if numExamples > 0 {
		results.Loss = lossSum / float64(numExamples)
		for ii, h := range hits {
			results.TopKAccuracy[ii] = float64(h) / float64(numExamples)
		}
	}
	return results, nil
}

// writeCodeVectors writes one line of space separated values per example.
func writeCodeVectors(w io.Writer, codeVectors *tensors.Tensor) error {
	dims := codeVectors.Shape().Dimensions
	values := tensors.MustCopyFlatData[float32](codeVectors)
	buf := bufio.NewWriter(w)
	var sb strings.Builder
	for ii := range dims[0] {
		sb.Reset()
		for jj, v := range values[ii*dims[1] : (ii+1)*dims[1]] {
			if jj > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		sb.WriteByte('\n')
		if _, err := buf.WriteString(sb.String()); err != nil {
			return errors.Wrap(err, "failed to write code vectors")
		}
	}
	return errors.Wrap(buf.Flush(), "failed to write code vectors")
}

// finalizeAll frees the memory of the tensors, on host and on device.
func finalizeAll(tensorLists ...[]*tensors.Tensor) {
	for _, list := range tensorLists {
		for _, t := range list {
			if t != nil {
				_ = t.FinalizeAll()
			}
		}
	}
}
