// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reader

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/gomlx/code2vec/pkg/config"
	"github.com/gomlx/code2vec/pkg/vocab"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVocabularies(t *testing.T) *vocab.Vocabularies {
	return &vocab.Vocabularies{
		Token:  must.M1(vocab.New(vocab.TypeToken, []string{"x", "y", "z"})),
		Path:   must.M1(vocab.New(vocab.TypePath, []string{"p1", "p2"})),
		Target: must.M1(vocab.New(vocab.TypeTarget, []string{"get|value", "set|value"})),
	}
}

// testConfig writes the lines to the train and test files and returns a config pointing to them.
func testConfig(t *testing.T, batchSize int, trainLines, testLines string) config.Config {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(prefix+".train.c2v", []byte(trainLines), 0644))
	require.NoError(t, os.WriteFile(prefix+".test.c2v", []byte(testLines), 0644))
	ctx := context.New()
	config.SetDefaultParams(ctx)
	ctx.SetParams(map[string]any{
		config.ParamMaxContexts:              3,
		config.ParamTrainBatchSize:           batchSize,
		config.ParamTestBatchSize:            batchSize,
		config.ParamShuffleBufferSize:        4,
		config.ParamReaderNumParallelBatches: 2,
	})
	cfg, err := config.New(ctx, config.Paths{TrainDataPathPrefix: prefix, TestDataPath: prefix + ".test.c2v"})
	require.NoError(t, err)
	return cfg
}

func TestParseLine(t *testing.T) {
	p := NewParser(testVocabularies(t), 3)
	e := p.ParseLine("get|value x,p1,y  unknown,p2,z x,p1,x x,p2,y\n")
	assert.Equal(t, "get|value", e.TargetName)
	assert.Equal(t, int32(1), e.TargetIndex)
	assert.Equal(t, []int32{2, 0, 1}, e.SourceIndices)
	assert.Equal(t, []int32{2, 0, 3}, e.PathIndices)
	assert.Equal(t, []int32{3, 0, 4}, e.TargetIndices)
	assert.Equal(t, []float32{1, 0, 1}, e.Mask)
	assert.Equal(t, 2, e.NumValidContexts())
	assert.Equal(t, Context{Source: "unknown", Path: "p2", Target: "z"}, e.Contexts[2])

	// Unknown target, no contexts at all.
	e = p.ParseLine("other|name")
	assert.Equal(t, int32(0), e.TargetIndex)
	assert.Equal(t, 0, e.NumValidContexts())
	assert.Equal(t, []int32{0, 0, 0}, e.SourceIndices)

	inputs := p.Inputs([]*Example{p.ParseLine("get|value x,p1,y"), e})
	require.Len(t, inputs, 4)
	for _, input := range inputs {
		assert.Equal(t, []int{2, 3}, input.Shape().Dimensions)
	}
	assert.Equal(t, []int32{2, 0, 0, 0, 0, 0}, tensors.MustCopyFlatData[int32](inputs[0]))
	assert.Equal(t, []float32{1, 0, 0, 0, 0, 0}, tensors.MustCopyFlatData[float32](inputs[3]))
}

const testData = "get|value x,p1,y\n" +
	"set|value y,p2,z\n" +
	"unknown|name x,p1,y\n" + // OOV target: dropped in training.
	"get|value\n" + // No contexts: always dropped.
	"\n" +
	"set|value z,p1,x y,p1,y\n"

func TestReaderTrain(t *testing.T) {
	cfg := testConfig(t, 2, testData, testData)
	r, err := New(cfg, testVocabularies(t), ModeTrain, false)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	var targets []int32
	for {
		spec, inputs, labels, err := r.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Nil(t, spec)
		require.Len(t, inputs, 4)
		require.Len(t, labels, 1)
		targets = append(targets, tensors.MustCopyFlatData[int32](labels[0])...)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	assert.Equal(t, []int32{1, 2, 2}, targets)

	// io.EOF is sticky until Reset.
	_, _, _, err = r.Yield()
	require.Equal(t, io.EOF, err)
	r.Reset()
	examples, err := r.NextExamples()
	require.NoError(t, err)
	require.Len(t, examples, 2)
}

func TestReaderEvaluate(t *testing.T) {
	cfg := testConfig(t, 2, testData, testData)
	r, err := New(cfg, testVocabularies(t), ModeEvaluate, false)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	var allTargets []string
	var batchSizes []int
	for {
		spec, _, labels, err := r.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		targets, ok := spec.(Targets)
		require.True(t, ok)
		allTargets = append(allTargets, targets...)
		batchSizes = append(batchSizes, labels[0].Shape().Dimensions[0])
	}
	// Order is preserved, and the short final batch is yielded.
	assert.Equal(t, []string{"get|value", "set|value", "unknown|name", "set|value"}, allTargets)
	assert.Equal(t, []int{2, 2}, batchSizes)
}

func TestReaderRepeat(t *testing.T) {
	cfg := testConfig(t, 3, testData, testData)
	r, err := New(cfg, testVocabularies(t), ModeEvaluate, true)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	for range 5 {
		examples, err := r.NextExamples()
		require.NoError(t, err)
		require.Len(t, examples, 3)
	}

	// Repeating an empty file ends immediately.
	cfg = testConfig(t, 3, "", "")
	r, err = New(cfg, testVocabularies(t), ModeTrain, true)
	require.NoError(t, err)
	_, err = r.NextExamples()
	require.Equal(t, io.EOF, err)

	// Blank lines are not examples: a file with only blank lines is empty, as CountLines reports.
	blank := " \n\t\n\r\n"
	cfg = testConfig(t, 3, blank, blank)
	count, err := CountLines(cfg.TrainDataPath(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	r, err = New(cfg, testVocabularies(t), ModeTrain, true)
	require.NoError(t, err)
	_, err = r.NextExamples()
	require.Equal(t, io.EOF, err)
}

// nextExamplesWithin calls r.NextExamples, failing the test if it doesn't return within the timeout.
func nextExamplesWithin(t *testing.T, r *Reader, timeout time.Duration) ([]*Example, error) {
	type result struct {
		examples []*Example
		err      error
	}
	done := make(chan result, 1)
	go func() {
		examples, err := r.NextExamples()
		done <- result{examples, err}
	}()
	select {
	case res := <-done:
		return res.examples, res.err
	case <-time.After(timeout):
		t.Fatalf("NextExamples() didn't return within %s", timeout)
		return nil, nil
	}
}

func TestReaderRepeatNoExamples(t *testing.T) {
	noTrainExamples := "unknown|name x,p1,y\n" + // OOV target.
		"get|value\n" + // No contexts.
		"other|name y,p2,z\n"
	for _, mode := range []Mode{ModeTrain, ModeEvaluate} {
		t.Run(mode.String(), func(t *testing.T) {
			lines := noTrainExamples
			if mode == ModeEvaluate {
				lines = "get|value\nset|value x,p1\n" // Contexts must have 3 parts.
			}
			cfg := testConfig(t, 2, lines, lines)
			r, err := New(cfg, testVocabularies(t), mode, true)
			require.NoError(t, err)
			defer func() { _ = r.Close() }()
			_, err = nextExamplesWithin(t, r, 10*time.Second)
			require.ErrorIs(t, err, ErrNoExamples)

			// The error is sticky until Reset.
			_, err = nextExamplesWithin(t, r, 10*time.Second)
			require.ErrorIs(t, err, ErrNoExamples)
		})
	}

	// Through the parallel dataset, as used in training.
	cfg := testConfig(t, 1, noTrainExamples, noTrainExamples)
	r, err := New(cfg, testVocabularies(t), ModeTrain, true)
	require.NoError(t, err)
	_, err = r.Parallel()
	require.ErrorIs(t, err, ErrNoExamples)

	// A single accepted example is enough to repeat forever.
	cfg = testConfig(t, 3, noTrainExamples+"get|value x,p1,y\n", "")
	r, err = New(cfg, testVocabularies(t), ModeTrain, true)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	for range 4 {
		examples, err := nextExamplesWithin(t, r, 10*time.Second)
		require.NoError(t, err)
		require.Len(t, examples, 3)
	}
}

func TestReaderParallel(t *testing.T) {
	cfg := testConfig(t, 1, testData, testData)
	r, err := New(cfg, testVocabularies(t), ModeTrain, false)
	require.NoError(t, err)
	ds, err := r.Parallel()
	require.NoError(t, err)
	defer ds.Done()
	count := 0
	for {
		_, _, _, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 3, count)
}

func TestCountLines(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "test.c2v")
	require.NoError(t, os.WriteFile(filePath, []byte(testData+"last x,p1,y"), 0644))
	count, err := CountLines(filePath, false)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}
