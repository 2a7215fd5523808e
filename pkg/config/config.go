// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the hyperparameters and the file-system layout of a code2vec run.
//
// Hyperparameters live in a GoMLX context.Context as params (see SetDefaultParams), so they
// can be overwritten from the command line with "-set" or from a YAML file (see LoadParamsFile).
// Once all overrides are applied, New takes a snapshot of them, plus the run paths, into an
// immutable Config value.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Hyperparameter keys, as stored in the context.Context.
const (
	ParamNumEpochs                = "num_epochs"
	ParamSaveEveryEpochs          = "save_every_epochs"
	ParamTrainBatchSize           = "train_batch_size"
	ParamTestBatchSize            = "test_batch_size"
	ParamMaxContexts              = "max_contexts"
	ParamMaxTokenVocabSize        = "max_token_vocab_size"
	ParamMaxTargetVocabSize       = "max_target_vocab_size"
	ParamMaxPathVocabSize         = "max_path_vocab_size"
	ParamTokenEmbeddingsSize      = "token_embeddings_size"
	ParamPathEmbeddingsSize       = "path_embeddings_size"
	ParamMaxToKeep                = "max_to_keep"
	ParamDropoutKeepRate          = "dropout_keep_rate"
	ParamTopKWords                = "top_k_words"
	ParamReaderNumParallelBatches = "reader_num_parallel_batches"
	ParamShuffleBufferSize        = "shuffle_buffer_size"
	ParamCSVBufferSize            = "csv_buffer_size"
)

const (
	// VocabulariesFileName is the name of the vocabularies file saved next to the model.
	VocabulariesFileName = "vocabularies.bin"

	fullModelSuffix    = "-full"
	weightsOnlySuffix  = "-only-weights"
	trainDataSuffix    = ".train.c2v"
	wordFreqDictSuffix = ".dict.c2v"
)

// ErrInvalid is returned (wrapped) by New and Config.Validate.
var ErrInvalid = errors.New("invalid configuration")

// SetDefaultParams sets the default hyperparameters of code2vec in ctx.
func SetDefaultParams(ctx *context.Context) {
	ctx.SetParams(map[string]any{
		ParamNumEpochs:         20,
		ParamSaveEveryEpochs:   1,
		ParamTrainBatchSize:    512,
		ParamTestBatchSize:     512,
		ParamMaxContexts:       200,
		ParamMaxTokenVocabSize: 1301136,
		ParamMaxPathVocabSize:  911417,

		// Method names.
		ParamMaxTargetVocabSize: 261245,

		ParamTokenEmbeddingsSize: 128,
		ParamPathEmbeddingsSize:  128,
		ParamMaxToKeep:           10,
		ParamDropoutKeepRate:     0.75,
		ParamTopKWords:           10,

		// Reader.
		ParamReaderNumParallelBatches: 6,
		ParamShuffleBufferSize:        10_000,
		ParamCSVBufferSize:            100 * 1024 * 1024,

		// Adam with its default learning rate.
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: optimizers.AdamDefaultLearningRate,
	})
}

// Paths of a run, usually given in the command line.
type Paths struct {
	// TrainDataPathPrefix is the prefix of the "<prefix>.train.c2v" and "<prefix>.dict.c2v" files.
	// If empty, there is no training.
	TrainDataPathPrefix string

	// TestDataPath is the file with evaluation examples. If empty, there is no evaluation.
	TestDataPath string

	// ModelSavePath and ModelLoadPath are model "paths": the actual files are derived from them.
	ModelSavePath, ModelLoadPath string

	// Release saves only the trained weights, without the optimizer state.
	Release bool

	// ExportCodeVectors during evaluation.
	ExportCodeVectors bool
}

// Config is the immutable configuration of a run: pass it by value.
// Derived values are methods, so they can't get out of sync with the fields they derive from.
type Config struct {
	Paths

	NumEpochs       int
	SaveEveryEpochs int
	TrainBatchSize  int
	TestBatchSize   int
	MaxContexts     int

	MaxTokenVocabSize  int
	MaxTargetVocabSize int
	MaxPathVocabSize   int

	TokenEmbeddingsSize int
	PathEmbeddingsSize  int

	MaxToKeep       int
	DropoutKeepRate float64
	TopKWords       int

	ReaderNumParallelBatches int
	ShuffleBufferSize        int
	CSVBufferSize            int

	// NumTrainExamples and NumTestExamples are only known once the data is inspected.
	// See WithExampleCounts.
	NumTrainExamples, NumTestExamples int
}

// New creates a Config from the hyperparameters in ctx (see SetDefaultParams) and the given paths.
// It returns an error wrapping ErrInvalid if the configuration is not valid.
func New(ctx *context.Context, paths Paths) (Config, error) {
	c := Config{
		Paths:                    paths,
		NumEpochs:                context.GetParamOr(ctx, ParamNumEpochs, 20),
		SaveEveryEpochs:          context.GetParamOr(ctx, ParamSaveEveryEpochs, 1),
		TrainBatchSize:           context.GetParamOr(ctx, ParamTrainBatchSize, 512),
		TestBatchSize:            context.GetParamOr(ctx, ParamTestBatchSize, 512),
		MaxContexts:              context.GetParamOr(ctx, ParamMaxContexts, 200),
		MaxTokenVocabSize:        context.GetParamOr(ctx, ParamMaxTokenVocabSize, 1301136),
		MaxTargetVocabSize:       context.GetParamOr(ctx, ParamMaxTargetVocabSize, 261245),
		MaxPathVocabSize:         context.GetParamOr(ctx, ParamMaxPathVocabSize, 911417),
		TokenEmbeddingsSize:      context.GetParamOr(ctx, ParamTokenEmbeddingsSize, 128),
		PathEmbeddingsSize:       context.GetParamOr(ctx, ParamPathEmbeddingsSize, 128),
		MaxToKeep:                context.GetParamOr(ctx, ParamMaxToKeep, 10),
		DropoutKeepRate:          context.GetParamOr(ctx, ParamDropoutKeepRate, 0.75),
		TopKWords:                context.GetParamOr(ctx, ParamTopKWords, 10),
		ReaderNumParallelBatches: context.GetParamOr(ctx, ParamReaderNumParallelBatches, 6),
		ShuffleBufferSize:        context.GetParamOr(ctx, ParamShuffleBufferSize, 10_000),
		CSVBufferSize:            context.GetParamOr(ctx, ParamCSVBufferSize, 100*1024*1024),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the consistency of the configuration.
func (c Config) Validate() error {
	positives := []struct {
		name  string
		value int
	}{
		{ParamNumEpochs, c.NumEpochs},
		{ParamSaveEveryEpochs, c.SaveEveryEpochs},
		{ParamTrainBatchSize, c.TrainBatchSize},
		{ParamTestBatchSize, c.TestBatchSize},
		{ParamMaxContexts, c.MaxContexts},
		{ParamMaxTokenVocabSize, c.MaxTokenVocabSize},
		{ParamMaxTargetVocabSize, c.MaxTargetVocabSize},
		{ParamMaxPathVocabSize, c.MaxPathVocabSize},
		{ParamTokenEmbeddingsSize, c.TokenEmbeddingsSize},
		{ParamPathEmbeddingsSize, c.PathEmbeddingsSize},
		{ParamMaxToKeep, c.MaxToKeep},
		{ParamTopKWords, c.TopKWords},
		{ParamReaderNumParallelBatches, c.ReaderNumParallelBatches},
		{ParamShuffleBufferSize, c.ShuffleBufferSize},
		{ParamCSVBufferSize, c.CSVBufferSize},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return errors.Wrapf(ErrInvalid, "%q must be > 0, got %d", p.name, p.value)
		}
	}
	if c.DropoutKeepRate <= 0 || c.DropoutKeepRate > 1 {
		return errors.Wrapf(ErrInvalid, "%q must be in (0, 1], got %g", ParamDropoutKeepRate, c.DropoutKeepRate)
	}
	if c.NumTrainExamples < 0 || c.NumTestExamples < 0 {
		return errors.Wrapf(ErrInvalid, "number of examples can't be negative (train=%d, test=%d)",
			c.NumTrainExamples, c.NumTestExamples)
	}
	if !c.IsTraining() && !c.IsLoading() {
		return errors.Wrap(ErrInvalid, "must train or load a model")
	}
	if c.IsLoading() {
		loadDir := filepath.Dir(c.ModelLoadPath)
		fi, err := os.Stat(loadDir)
		if err != nil || !fi.IsDir() {
			return errors.Wrapf(ErrInvalid, "model load directory %q does not exist", loadDir)
		}
	}
	return nil
}

// WithExampleCounts returns a copy of the Config with the number of train and test examples set.
func (c Config) WithExampleCounts(numTrain, numTest int) Config {
	c.NumTrainExamples = numTrain
	c.NumTestExamples = numTest
	return c
}

// ContextEmbeddingsSize is the width of one path-context: source token, path and target token
// embeddings concatenated.
func (c Config) ContextEmbeddingsSize() int {
	return c.PathEmbeddingsSize + 2*c.TokenEmbeddingsSize
}

// CodeVectorSize is the width of the code vectors, the same as ContextEmbeddingsSize.
func (c Config) CodeVectorSize() int {
	return c.ContextEmbeddingsSize()
}

// TargetEmbeddingsSize is the width of the target words embeddings (the output projection).
func (c Config) TargetEmbeddingsSize() int {
	return c.CodeVectorSize()
}

// TrainStepsPerEpoch is the number of training batches in one epoch.
func (c Config) TrainStepsPerEpoch() int {
	return ceilDiv(c.NumTrainExamples, c.TrainBatchSize)
}

// TestStepsPerEpoch is the number of evaluation batches in one pass over the test data.
func (c Config) TestStepsPerEpoch() int {
	return ceilDiv(c.NumTestExamples, c.TestBatchSize)
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// DataPath returns the test data path if evaluating, or the training data path otherwise.
func (c Config) DataPath(isEvaluating bool) string {
	if isEvaluating {
		return c.TestDataPath
	}
	return c.TrainDataPath()
}

// BatchSize returns the batch size to use when evaluating or training.
func (c Config) BatchSize(isEvaluating bool) int {
	if isEvaluating {
		return c.TestBatchSize
	}
	return c.TrainBatchSize
}

// TrainDataPath is "<prefix>.train.c2v".
func (c Config) TrainDataPath() string {
	return c.TrainDataPathPrefix + trainDataSuffix
}

// WordFreqDictPath is "<prefix>.dict.c2v".
func (c Config) WordFreqDictPath() string {
	return c.TrainDataPathPrefix + wordFreqDictSuffix
}

// IsTraining returns whether training data was configured.
func (c Config) IsTraining() bool { return c.TrainDataPathPrefix != "" }

// IsTesting returns whether evaluation data was configured.
func (c Config) IsTesting() bool { return c.TestDataPath != "" }

// IsLoading returns whether a model is to be loaded.
func (c Config) IsLoading() bool { return c.ModelLoadPath != "" }

// IsSaving returns whether the model is to be saved.
func (c Config) IsSaving() bool { return c.ModelSavePath != "" }

// FullModelPath returns the directory holding the full checkpoints of the model at modelPath.
func FullModelPath(modelPath string) string { return modelPath + fullModelSuffix }

// ModelWeightsPath returns the weights-only file of the model at modelPath.
func ModelWeightsPath(modelPath string) string { return modelPath + weightsOnlySuffix }

// VocabulariesPathFromModelPath returns the vocabularies file stored in the same directory as modelPath.
func VocabulariesPathFromModelPath(modelPath string) string {
	return filepath.Join(filepath.Dir(modelPath), VocabulariesFileName)
}

// FullModelLoadPath is FullModelPath of ModelLoadPath.
func (c Config) FullModelLoadPath() string { return FullModelPath(c.ModelLoadPath) }

// FullModelSavePath is FullModelPath of ModelSavePath.
func (c Config) FullModelSavePath() string { return FullModelPath(c.ModelSavePath) }

// ModelWeightsLoadPath is ModelWeightsPath of ModelLoadPath.
func (c Config) ModelWeightsLoadPath() string { return ModelWeightsPath(c.ModelLoadPath) }

// ModelWeightsSavePath is ModelWeightsPath of ModelSavePath.
func (c Config) ModelWeightsSavePath() string { return ModelWeightsPath(c.ModelSavePath) }

// String implements fmt.Stringer.
func (c Config) String() string {
	return fmt.Sprintf("code2vec.Config(epochs=%d, batch=%d/%d, max_contexts=%d, embeddings=%d+2*%d, code_vector=%d, top_k=%d)",
		c.NumEpochs, c.TrainBatchSize, c.TestBatchSize, c.MaxContexts,
		c.PathEmbeddingsSize, c.TokenEmbeddingsSize, c.CodeVectorSize(), c.TopKWords)
}
