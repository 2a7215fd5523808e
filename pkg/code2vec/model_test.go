// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/code2vec/pkg/config"
	"github.com/gomlx/code2vec/pkg/reader"
	"github.com/gomlx/code2vec/pkg/vocab"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const testData = "get|value x,p1,y y,p2,z\n" +
	"set|value z,p1,x x,p2,y\n" +
	"get|value x,p1,z\n" +
	"set|value y,p2,y z,p1,z\n"

func testVocabularies() *vocab.Vocabularies {
	return &vocab.Vocabularies{
		Token:  must.M1(vocab.New(vocab.TypeToken, []string{"x", "y", "z"})),
		Path:   must.M1(vocab.New(vocab.TypePath, []string{"p1", "p2"})),
		Target: must.M1(vocab.New(vocab.TypeTarget, []string{"get|value", "set|value"})),
	}
}

// testDataPaths writes the test data as train and test files, and returns the run paths with a
// model save path, all in a temporary directory.
func testDataPaths(t *testing.T) config.Paths {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(prefix+".train.c2v", []byte(testData), 0644))
	require.NoError(t, os.WriteFile(prefix+".test.c2v", []byte(testData), 0644))
	return config.Paths{
		TrainDataPathPrefix: prefix,
		TestDataPath:        prefix + ".test.c2v",
		ModelSavePath:       filepath.Join(dir, "models", "saved_model"),
	}
}

// testModel creates a model with small sizes, not built yet.
func testModel(t *testing.T, paths config.Paths, params map[string]any) *Model {
	ctx := context.New()
	config.SetDefaultParams(ctx)
	ctx.SetParams(map[string]any{
		config.ParamNumEpochs:                2,
		config.ParamTrainBatchSize:           2,
		config.ParamTestBatchSize:            3,
		config.ParamMaxContexts:              3,
		config.ParamTokenEmbeddingsSize:      4,
		config.ParamPathEmbeddingsSize:       2,
		config.ParamMaxToKeep:                2,
		config.ParamTopKWords:                2,
		config.ParamShuffleBufferSize:        4,
		config.ParamReaderNumParallelBatches: 2,
	})
	ctx.SetParams(params)
	cfg, err := config.New(ctx, paths)
	require.NoError(t, err)
	cfg = cfg.WithExampleCounts(4, 4)
	return New(graphtest.BuildTestBackend(), ctx, cfg, testVocabularies())
}

func TestModelStates(t *testing.T) {
	m := testModel(t, testDataPaths(t), nil)
	require.Equal(t, StateUninitialized, m.State())
	require.ErrorIs(t, m.Train(), ErrInvalidState)
	_, err := m.Predict([]string{"get|value x,p1,y"})
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, m.Build())
	require.Equal(t, StateBuilt, m.State())
	require.ErrorIs(t, m.Build(), ErrInvalidState)
	require.ErrorIs(t, m.Load(m.Config().ModelSavePath), ErrInvalidState)
}

func TestTrainAndRestoreFull(t *testing.T) {
	paths := testDataPaths(t)
	m := testModel(t, paths, map[string]any{config.ParamNumEpochs: 3})
	require.NoError(t, m.Build())
	require.NoError(t, m.Train())
	assert.Equal(t, 3, m.NumEpochsTrained())
	assert.Equal(t, StateBuilt, m.State())

	// Retention: only the last MaxToKeep checkpoints are kept, and the pointer names the newest.
	fullDir := config.FullModelPath(paths.ModelSavePath)
	pointer, err := ReadCheckpointPointer(fullDir)
	require.NoError(t, err)
	require.NotNil(t, pointer)
	assert.Equal(t, "ckpt-3", pointer.Latest)
	require.Len(t, pointer.All, 2)
	assert.Equal(t, pointer.All[1], pointer.Checkpoint)
	jsonFiles, err := filepath.Glob(filepath.Join(fullDir, "checkpoint-*"+checkpoints.JsonNameSuffix))
	require.NoError(t, err)
	assert.Len(t, jsonFiles, 2)
	assert.FileExists(t, config.VocabulariesPathFromModelPath(paths.ModelSavePath))
	inspectCtx := context.New()
	_, err = checkpoints.Build(inspectCtx).Dir(fullDir).Immediate().Done()
	require.NoError(t, err)
	assert.Contains(t, CheckpointReport(pointer, inspectCtx), pointer.Checkpoint)

	results, err := m.Evaluate()
	require.NoError(t, err)
	assert.Equal(t, 4, results.NumExamples)
	assert.Len(t, results.TopKAccuracy, 2)
	assert.Contains(t, EvaluationReport(results), "Top-2 accuracy")

	tokenEmbeddings, err := m.VocabEmbedding(vocab.TypeToken)
	require.NoError(t, err)
	targetEmbeddings, err := m.VocabEmbedding(vocab.TypeTarget)
	require.NoError(t, err)
	rows, cols := targetEmbeddings.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, m.Config().TargetEmbeddingsSize(), cols)

	// A partially written checkpoint, newer than the pointer, is removed on load.
	partial := filepath.Join(fullDir, "checkpoint-n9999999-20991231-235959-step-99999999"+checkpoints.JsonNameSuffix)
	require.NoError(t, os.WriteFile(partial, []byte("{"), 0644))

	// Restore, to continue training.
	restorePaths := paths
	restorePaths.ModelLoadPath = paths.ModelSavePath
	m2 := testModel(t, restorePaths, map[string]any{config.ParamNumEpochs: 4})
	require.NoError(t, m2.Build())
	assert.NoFileExists(t, partial)
	assert.Equal(t, 3, m2.NumEpochsTrained())
	restored, err := m2.VocabEmbedding(vocab.TypeToken)
	require.NoError(t, err)
	assert.True(t, mat.Equal(tokenEmbeddings, restored))

	require.NoError(t, m2.Train())
	assert.Equal(t, 4, m2.NumEpochsTrained())
	pointer, err = ReadCheckpointPointer(fullDir)
	require.NoError(t, err)
	assert.Equal(t, "ckpt-4", pointer.Latest)
}

func TestWeightsOnlyRoundTrip(t *testing.T) {
	paths := testDataPaths(t)
	paths.Release = true
	m := testModel(t, paths, map[string]any{config.ParamNumEpochs: 1})
	require.NoError(t, m.Build())
	require.NoError(t, m.Train())
	weightsPath := config.ModelWeightsPath(paths.ModelSavePath)
	require.FileExists(t, weightsPath)
	assert.NoDirExists(t, config.FullModelPath(paths.ModelSavePath))
	pathEmbeddings, err := m.VocabEmbedding(vocab.TypePath)
	require.NoError(t, err)

	// Loading weights only, for evaluation.
	loadPaths := config.Paths{TestDataPath: paths.TestDataPath, ModelLoadPath: paths.ModelSavePath}
	m2 := testModel(t, loadPaths, nil)
	require.NoError(t, m2.Build())
	assert.Equal(t, 0, m2.NumEpochsTrained())
	restored, err := m2.VocabEmbedding(vocab.TypePath)
	require.NoError(t, err)
	assert.True(t, mat.Equal(pathEmbeddings, restored))

	// Training requires a full checkpoint.
	trainPaths := paths
	trainPaths.Release = false
	trainPaths.ModelLoadPath = paths.ModelSavePath
	m3 := testModel(t, trainPaths, nil)
	err = m3.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoFullCheckpoint))
}

func TestPredictAndExport(t *testing.T) {
	paths := testDataPaths(t)
	paths.ModelSavePath = ""
	paths.ExportCodeVectors = true
	m := testModel(t, paths, nil)
	require.NoError(t, m.Build())

	results, err := m.Predict([]string{
		"get|value x,p1,y unknown,p2,z",
		"other",
		"set|value z,p1,x x,p2,y y,p1,y x,p1,x",
		"get|value y,p2,z",
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "get|value", results[0].OriginalName)
	for _, result := range results {
		assert.Len(t, result.TopK, 2)
		assert.Len(t, result.CodeVector, m.Config().CodeVectorSize())
	}
	require.Len(t, results[0].Attention, 2)
	assert.Equal(t, "unknown", results[0].Attention[1].Source)
	assert.InDelta(t, 1.0, results[0].Attention[0].Weight+results[0].Attention[1].Weight, 1e-5)
	assert.Empty(t, results[1].Attention)
	assert.Equal(t, make([]float32, m.Config().CodeVectorSize()), results[1].CodeVector)
	assert.Len(t, results[2].Attention, 3, "contexts past MaxContexts are dropped")
	assert.Contains(t, PredictionReport(&results[0]), "get|value")

	// Exported code vectors: one line per evaluated example.
	_, err = m.Evaluate()
	require.NoError(t, err)
	vectors, err := os.ReadFile(paths.TestDataPath + VectorsFileSuffix)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(vectors)), "\n")
	require.Len(t, lines, 4)
	assert.Len(t, strings.Fields(lines[0]), m.Config().CodeVectorSize())

	// word2vec format.
	var buf bytes.Buffer
	require.NoError(t, m.SaveWord2VecFormat(&buf, vocab.TypeToken))
	lines = strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "5 4", lines[0])
	assert.True(t, strings.HasPrefix(lines[3], "x "))
}

func TestSaveEveryEpochs(t *testing.T) {
	paths := testDataPaths(t)
	m := testModel(t, paths, map[string]any{
		config.ParamNumEpochs:       3,
		config.ParamSaveEveryEpochs: 2,
		config.ParamMaxToKeep:       5,
	})
	require.NoError(t, m.Build())
	require.NoError(t, m.Train())
	require.Equal(t, 3, m.NumEpochsTrained())

	// Saved after epoch 2 (2 steps per epoch), and once more at the end for the unsaved epoch 3.
	fullDir := config.FullModelPath(paths.ModelSavePath)
	pointer, err := ReadCheckpointPointer(fullDir)
	require.NoError(t, err)
	require.NotNil(t, pointer)
	assert.Equal(t, "ckpt-3", pointer.Latest)
	require.Len(t, pointer.All, 2)
	assert.True(t, strings.HasSuffix(pointer.All[0], "-step-00000004"), "first checkpoint %q", pointer.All[0])
	assert.True(t, strings.HasSuffix(pointer.All[1], "-step-00000006"), "last checkpoint %q", pointer.All[1])
	jsonFiles, err := filepath.Glob(filepath.Join(fullDir, "checkpoint-*"+checkpoints.JsonNameSuffix))
	require.NoError(t, err)
	assert.Len(t, jsonFiles, 2)

	// Nothing unsaved: training to the same number of epochs again doesn't save.
	require.NoError(t, m.Train())
	pointer, err = ReadCheckpointPointer(fullDir)
	require.NoError(t, err)
	assert.Len(t, pointer.All, 2)
}

func TestSaveIntoForeignCheckpoints(t *testing.T) {
	paths := testDataPaths(t)
	m := testModel(t, paths, map[string]any{config.ParamNumEpochs: 1})
	require.NoError(t, m.Build())
	require.NoError(t, m.Train())

	// A new model, not loaded from it, can't save to the same path.
	m2 := testModel(t, paths, nil)
	err := m2.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForeignCheckpoints))
}

func TestTrainWithoutExamples(t *testing.T) {
	paths := testDataPaths(t)
	// Every target is out of the vocabulary.
	require.NoError(t, os.WriteFile(paths.TrainDataPathPrefix+".train.c2v",
		[]byte("unknown|name x,p1,y\nother|name y,p2,z\n"), 0644))
	m := testModel(t, paths, nil)
	require.NoError(t, m.Build())
	done := make(chan error, 1)
	go func() { done <- m.Train() }()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, reader.ErrNoExamples), "got %+v", err)
	case <-time.After(time.Minute):
		t.Fatal("Train() didn't return")
	}
	assert.Equal(t, 0, m.NumEpochsTrained())
}
