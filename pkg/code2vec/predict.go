// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"github.com/gomlx/code2vec/pkg/reader"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ContextAttention is the attention weight given to one path-context.
type ContextAttention struct {
	reader.Context
	Weight float32
}

// PredictionResult for one input line.
type PredictionResult struct {
	// OriginalName is the target name given in the line, if any.
	OriginalName string

	// TopK predicted names, most probable first.
	TopK []WordProbability

	CodeVector []float32

	// Attention of the valid contexts of the line, in the order they appear.
	Attention []ContextAttention
}

// predictOutputs of one batch, flattened.
type predictOutputs struct {
	indices                         []int32
	scores, codeVectors, attentions []float32
}

func (m *Model) predictExamples(examples []*reader.Example) (*predictOutputs, error) {
	inputs := m.parser.Inputs(examples)
	outputs, err := m.predictExec.Exec(inputs[0], inputs[1], inputs[2], inputs[3])
	if err != nil {
		return nil, errors.WithMessage(err, "prediction failed")
	}
	defer finalizeAll(inputs, outputs)
	return &predictOutputs{
		indices:     tensors.MustCopyFlatData[int32](outputs[0]),
		scores:      tensors.MustCopyFlatData[float32](outputs[1]),
		codeVectors: tensors.MustCopyFlatData[float32](outputs[2]),
		attentions:  tensors.MustCopyFlatData[float32](outputs[3]),
	}, nil
}

// Predict parses each line as a path-contexts example, in the same format as the data files, and returns
// the predicted names, code vector and attention weights of each one.
func (m *Model) Predict(lines []string) ([]PredictionResult, error) {
	if err := m.checkState("Predict", StateBuilt); err != nil {
		return nil, err
	}
	m.state = StatePredicting
	defer func() { m.state = StateBuilt }()

	k := m.predictor.K()
	codeSize := m.cfg.CodeVectorSize()
	numContexts := m.cfg.MaxContexts
	results := make([]PredictionResult, 0, len(lines))
	for start := 0; start < len(lines); start += m.cfg.TestBatchSize {
		end := min(start+m.cfg.TestBatchSize, len(lines))
		examples := make([]*reader.Example, 0, end-start)
		for _, line := range lines[start:end] {
			examples = append(examples, m.parser.ParseLine(line))
		}
		out, err := m.predictExamples(examples)
		if err != nil {
			return nil, err
		}
		for ii, e := range examples {
			result := PredictionResult{
				OriginalName: e.TargetName,
				TopK:         m.predictor.Decode(out.indices[ii*k:(ii+1)*k], out.scores[ii*k:(ii+1)*k]),
				CodeVector:   out.codeVectors[ii*codeSize : (ii+1)*codeSize],
			}
			weights := out.attentions[ii*numContexts : (ii+1)*numContexts]
			for cc, valid := range e.Mask {
				if valid > 0 {
					result.Attention = append(result.Attention, ContextAttention{Context: e.Contexts[cc], Weight: weights[cc]})
				}
			}
			results = append(results, result)
		}
	}
	return results, nil
}
