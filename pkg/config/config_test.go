// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestContext() *context.Context {
	ctx := context.New()
	SetDefaultParams(ctx)
	return ctx
}

func TestNew(t *testing.T) {
	ctx := createTestContext()
	ctx.SetParam(ParamTokenEmbeddingsSize, 64)
	ctx.SetParam(ParamPathEmbeddingsSize, 32)
	cfg, err := New(ctx, Paths{TrainDataPathPrefix: "data/java14m/java14m", ModelSavePath: "models/java14m/saved_model"})
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.NumEpochs)
	assert.Equal(t, 0.75, cfg.DropoutKeepRate)
	assert.Equal(t, 32+2*64, cfg.ContextEmbeddingsSize())
	assert.Equal(t, cfg.ContextEmbeddingsSize(), cfg.CodeVectorSize())
	assert.Equal(t, cfg.CodeVectorSize(), cfg.TargetEmbeddingsSize())

	assert.True(t, cfg.IsTraining())
	assert.True(t, cfg.IsSaving())
	assert.False(t, cfg.IsTesting())
	assert.False(t, cfg.IsLoading())
	assert.Equal(t, "data/java14m/java14m.train.c2v", cfg.TrainDataPath())
	assert.Equal(t, "data/java14m/java14m.dict.c2v", cfg.WordFreqDictPath())
	assert.Equal(t, "models/java14m/saved_model-full", cfg.FullModelSavePath())
	assert.Equal(t, "models/java14m/saved_model-only-weights", cfg.ModelWeightsSavePath())
	assert.Equal(t, filepath.Join("models/java14m", VocabulariesFileName),
		VocabulariesPathFromModelPath(cfg.ModelSavePath))
	assert.Equal(t, cfg.TrainDataPath(), cfg.DataPath(false))
	assert.Equal(t, cfg.TrainBatchSize, cfg.BatchSize(false))
}

func TestStepsPerEpoch(t *testing.T) {
	ctx := createTestContext()
	cfg, err := New(ctx, Paths{TrainDataPathPrefix: "data"})
	require.NoError(t, err)
	cfg = cfg.WithExampleCounts(1000, 512)
	assert.Equal(t, 512, cfg.TrainBatchSize)
	assert.Equal(t, 2, cfg.TrainStepsPerEpoch())
	assert.Equal(t, 1, cfg.TestStepsPerEpoch())

	cfg = cfg.WithExampleCounts(1024, 0)
	assert.Equal(t, 2, cfg.TrainStepsPerEpoch())
	assert.Equal(t, 0, cfg.TestStepsPerEpoch())
}

func TestValidate(t *testing.T) {
	ctx := createTestContext()

	// Neither training nor loading.
	_, err := New(ctx, Paths{TestDataPath: "test.c2v"})
	require.True(t, errors.Is(err, ErrInvalid), "got %v", err)

	// Loading from a directory that doesn't exist.
	_, err = New(ctx, Paths{ModelLoadPath: filepath.Join(t.TempDir(), "missing", "saved_model")})
	require.True(t, errors.Is(err, ErrInvalid), "got %v", err)

	// Loading from an existing directory.
	_, err = New(ctx, Paths{ModelLoadPath: filepath.Join(t.TempDir(), "saved_model")})
	require.NoError(t, err)

	ctx.SetParam(ParamDropoutKeepRate, 0.0)
	_, err = New(ctx, Paths{TrainDataPathPrefix: "data"})
	require.True(t, errors.Is(err, ErrInvalid), "got %v", err)

	ctx.SetParam(ParamDropoutKeepRate, 1.0)
	ctx.SetParam(ParamTopKWords, 0)
	_, err = New(ctx, Paths{TrainDataPathPrefix: "data"})
	require.True(t, errors.Is(err, ErrInvalid), "got %v", err)
}

func TestLoadParamsFile(t *testing.T) {
	ctx := createTestContext()
	dir := t.TempDir()

	// Missing file is a no-op.
	paramsSet, err := LoadParamsFile(ctx, filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	require.Empty(t, paramsSet)

	filePath := filepath.Join(dir, "params.yaml")
	require.NoError(t, os.WriteFile(filePath, []byte("num_epochs: 3\ndropout_keep_rate: 1\nmax_contexts: 10.0\n"), 0644))
	paramsSet, err = LoadParamsFile(ctx, filePath)
	require.NoError(t, err)
	require.Equal(t, []string{ParamDropoutKeepRate, ParamMaxContexts, ParamNumEpochs}, paramsSet)
	assert.Equal(t, 3, context.GetParamOr(ctx, ParamNumEpochs, 0))
	assert.Equal(t, 1.0, context.GetParamOr(ctx, ParamDropoutKeepRate, 0.0))
	assert.Equal(t, 10, context.GetParamOr(ctx, ParamMaxContexts, 0))

	// Unknown params and wrong types are errors.
	require.NoError(t, os.WriteFile(filePath, []byte("num_epocs: 3\n"), 0644))
	_, err = LoadParamsFile(ctx, filePath)
	require.Error(t, err)
	require.NoError(t, os.WriteFile(filePath, []byte("num_epochs: 2.5\n"), 0644))
	_, err = LoadParamsFile(ctx, filePath)
	require.Error(t, err)
	require.NoError(t, os.WriteFile(filePath, []byte("num_epochs: many\n"), 0644))
	_, err = LoadParamsFile(ctx, filePath)
	require.Error(t, err)
}
