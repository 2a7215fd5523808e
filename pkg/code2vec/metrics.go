// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gopjrt/dtypes"
)

// TopKAccuracyGraph returns a metrics.BaseMetricGraph of the fraction of examples whose label is among the
// k highest logits of the words accepted by the predictor's filters. Ties count as hits.
//
// Labels are the target indices shaped [batch, 1], and predictions[0] the logits shaped [batch, |targets|].
func (p *Predictor) TopKAccuracyGraph(k int) metrics.BaseMetricGraph {
	return func(_ *context.Context, labels, predictions []*Node) *Node {
		logits := predictions[0]
		g := logits.Graph()
		dtype := logits.DType()
		dims := logits.Shape().Dimensions
		if labels[0].Rank() != 2 || labels[0].Shape().Dimensions[1] != 1 {
			exceptions.Panicf("top-%d accuracy expects labels shaped [batch, 1], got %s", k, labels[0].Shape())
		}
		labelIndices := BroadcastToDims(ConvertDType(labels[0], dtypes.Int32), dims...)
		isLabel := Equal(Iota(g, shapes.Make(dtypes.Int32, dims...), 1), labelIndices)
		labelLogit := ReduceAndKeep(Where(isLabel, logits, ZerosLike(logits)), ReduceSum, -1)
		keep := ConvertDType(BroadcastToDims(InsertAxes(Const(g, p.keep), 0), dims...), dtype)
		higher := Mul(ConvertDType(GreaterThan(logits, BroadcastToDims(labelLogit, dims...)), dtype), keep)
		numHigher := ReduceSum(higher, -1)
		hits := ConvertDType(LessThan(numHigher, Scalar(g, dtype, float64(k))), dtype)
		return ReduceAllMean(hits)
	}
}

// newTopKAccuracy returns a mean metric of the top-k accuracy, for evaluation, or a moving average of it,
// for training, when newExampleWeight > 0.
func (p *Predictor) newTopKAccuracy(k int, newExampleWeight float64) metrics.Interface {
	name, shortName := fmt.Sprintf("Top-%d Accuracy", k), fmt.Sprintf("#top%d", k)
	if newExampleWeight > 0 {
		return metrics.NewExponentialMovingAverageMetric("Moving Average "+name, fmt.Sprintf("~top%d", k),
			metrics.AccuracyMetricType, p.TopKAccuracyGraph(k), accuracyPrint, newExampleWeight)
	}
	return metrics.NewMeanMetric(name, shortName, metrics.AccuracyMetricType, p.TopKAccuracyGraph(k), accuracyPrint)
}

func accuracyPrint(value *tensors.Tensor) string {
	return fmt.Sprintf("%.2f%%", shapes.ConvertTo[float64](value.Value())*100.0)
}
