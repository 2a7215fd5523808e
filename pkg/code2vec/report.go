// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Underline(true)
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

// newTable with alternating row styles. The last alignment given is used for the remaining columns.
func newTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

// VariablesReport renders a table with the variables in the scope of ctx and their sizes.
func VariablesReport(ctx *context.Context) string {
	table := newTable(lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Variable", "Shape", "Size", "Bytes")
	var rows [][]string
	var totalSize int
	var totalMemory uintptr
	for v := range ctx.IterVariablesInScope() {
		shape := v.Shape()
		totalSize += shape.Size()
		totalMemory += shape.Memory()
		rows = append(rows, []string{
			variablePath(v.Scope(), v.Name()), shape.String(),
			humanize.Comma(int64(shape.Size())), humanize.Bytes(uint64(shape.Memory())),
		})
	}
	slices.SortFunc(rows, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	for _, row := range rows {
		table.Row(row...)
	}
	table.Row("Total", "", humanize.Comma(int64(totalSize)), humanize.Bytes(uint64(totalMemory)))
	return titleStyle.Render(fmt.Sprintf("Variables in scope %q", ctx.Scope())) + "\n" + table.Render()
}

// EvaluationReport renders the evaluation results as a table.
func EvaluationReport(results *EvaluationResults) string {
	table := newTable(lipgloss.Right, lipgloss.Left)
	table.Headers("Metric", "Value")
	table.Row("Examples", humanize.Comma(int64(results.NumExamples)))
	table.Row("Loss", fmt.Sprintf("%.4f", results.Loss))
	for ii, accuracy := range results.TopKAccuracy {
		table.Row(fmt.Sprintf("Top-%d accuracy", ii+1), fmt.Sprintf("%.2f%%", 100*accuracy))
	}
	table.Row("Precision", fmt.Sprintf("%.4f", results.Precision))
	table.Row("Recall", fmt.Sprintf("%.4f", results.Recall))
	table.Row("F1", fmt.Sprintf("%.4f", results.F1))
	return titleStyle.Render("Evaluation") + "\n" + table.Render()
}

// PredictionReport renders the predicted names and the attention of the contexts of one prediction.
func PredictionReport(result *PredictionResult) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Original name: %s", result.OriginalName)))
	sb.WriteByte('\n')
	predictions := newTable(lipgloss.Right, lipgloss.Left)
	predictions.Headers("Probability", "Predicted name")
	for _, wp := range result.TopK {
		predictions.Row(fmt.Sprintf("%.3f", wp.Probability), wp.Word)
	}
	sb.WriteString(predictions.Render())
	sb.WriteByte('\n')
	attention := newTable(lipgloss.Right, lipgloss.Left)
	attention.Headers("Attention", "Context")
	for _, ca := range result.Attention {
		attention.Row(fmt.Sprintf("%.4f", ca.Weight), fmt.Sprintf("%s,%s,%s", ca.Source, ca.Path, ca.Target))
	}
	sb.WriteString(attention.Render())
	return sb.String()
}

// CheckpointReport renders the pointer of a full checkpoints directory, and a summary of the variables
// restored from it into ctx.
func CheckpointReport(pointer *CheckpointPointer, ctx *context.Context) string {
	table := newTable(lipgloss.Right, lipgloss.Left)
	table.Row("latest", pointer.Latest)
	table.Row("checkpoint", pointer.Checkpoint)
	for ii, name := range pointer.All {
		label := ""
		if ii == 0 {
			label = "kept"
		}
		table.Row(label, name)
	}
	table.Row("run id", pointer.RunID)
	table.Row("saved at", pointer.SavedAt.Format(time.DateTime))
	table.Row("global step", humanize.Comma(optimizers.GetGlobalStep(ctx)))

	var numVars, totalSize int
	var totalMemory uintptr
	for v := range ctx.InAbsPath(context.ScopeSeparator + ModelScope).IterVariablesInScope() {
		numVars++
		totalSize += v.Shape().Size()
		totalMemory += v.Shape().Memory()
	}
	table.Row("# variables", humanize.Comma(int64(numVars)))
	table.Row("# parameters", humanize.Comma(int64(totalSize)))
	table.Row("# bytes", humanize.Bytes(uint64(totalMemory)))
	return titleStyle.Render("Checkpoint") + "\n" + table.Render()
}
