// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package code2vec implements the code2vec model: a bag of path-contexts extracted from a method is embedded,
// aggregated with attention into a code vector, and decoded into the most likely method names.
//
// The Model type orchestrates building, training, evaluating, predicting and persisting the model. See New.
package code2vec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/code2vec/pkg/config"
	"github.com/gomlx/code2vec/pkg/reader"
	"github.com/gomlx/code2vec/pkg/vocab"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// State of a Model. Operations are only accepted in some states, see Model.
type State int

const (
	StateUninitialized State = iota
	StateBuilt
	StateTraining
	StateEvaluating
	StatePredicting
)

//go:generate go tool enumer -type=State -trimprefix=State -output=gen_state_enumer.go model.go

var (
	// ErrInvalidState is returned when an operation is called in a state that doesn't accept it.
	ErrInvalidState = errors.New("invalid model state")

	// ErrNoFullCheckpoint is returned when training is requested from a model without a full checkpoint.
	// Weights-only models can't be trained further.
	ErrNoFullCheckpoint = errors.New("no full checkpoint to continue training from")

	// ErrForeignCheckpoints is returned when the save directory holds checkpoints that were not loaded
	// by the model, and would be mixed up with the new ones.
	ErrForeignCheckpoints = errors.New("save directory already holds checkpoints of another model")
)

// Model orchestrates the code2vec network: it goes from StateUninitialized (New) to StateBuilt (Build), and
// from StateBuilt temporarily to StateTraining, StateEvaluating or StatePredicting, back to StateBuilt.
//
// It is not safe for concurrent use.
type Model struct {
	cfg     config.Config
	backend backends.Backend

	// rootCtx holds the hyperparameters and the optimizer variables, ctx is scoped to ModelScope.
	rootCtx, ctx *context.Context

	vocabs    *vocab.Vocabularies
	sizes     VocabSizes
	parser    *reader.Parser
	predictor *Predictor

	state                          State
	nrEpochsTrained, unsavedEpochs int
	runID                          uuid.UUID
	progressBar                    bool

	// checkpoint handles the full checkpoints of the save directory, loadedDir is the directory
	// of the full checkpoint loaded, if any.
	checkpoint *checkpoints.Handler
	loadedDir  string

	trainer               *train.Trainer
	evalExec, predictExec *context.Exec
}

// New creates an uninitialized model for the configuration and vocabularies.
// If ctx is nil, a new context is created: the hyperparameters are taken from cfg anyway.
//
// Call Build before using it.
func New(backend backends.Backend, ctx *context.Context, cfg config.Config, vocabs *vocab.Vocabularies) *Model {
	if ctx == nil {
		ctx = context.New()
		config.SetDefaultParams(ctx)
	}
	m := &Model{
		cfg:     cfg,
		backend: backend,
		rootCtx: ctx,
		ctx:     ctx.In(ModelScope).Checked(false),
		vocabs:  vocabs,
		runID:   uuid.New(),
	}
	if vocabs != nil {
		m.sizes = SizesOf(vocabs)
		m.parser = reader.NewParser(vocabs, cfg.MaxContexts)
		m.predictor = NewPredictor(vocabs.Target, cfg.TopKWords)
	}
	return m
}

// WithProgressBar enables a progress bar during training. It returns the model itself.
func (m *Model) WithProgressBar(enabled bool) *Model {
	m.progressBar = enabled
	return m
}

// Config returns the model's configuration.
func (m *Model) Config() config.Config { return m.cfg }

// Context returns the context holding the model variables, scoped to ModelScope.
func (m *Model) Context() *context.Context { return m.ctx }

// Vocabularies used by the model.
func (m *Model) Vocabularies() *vocab.Vocabularies { return m.vocabs }

// State of the model.
func (m *Model) State() State { return m.state }

// NumEpochsTrained returns the number of epochs the model has been trained, including those of
// the loaded checkpoint.
func (m *Model) NumEpochsTrained() int { return m.nrEpochsTrained }

// checkState returns ErrInvalidState if the model is not in one of the given states.
func (m *Model) checkState(op string, states ...State) error {
	for _, s := range states {
		if m.state == s {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidState, "%s() called in state %s, expected one of %v", op, m.state, states)
}

// Build the model: it loads the model from Config.ModelLoadPath if configured, creates (or loads)
// the variables, the trainer and the evaluation and prediction executors.
func (m *Model) Build() error {
	if err := m.checkState("Build", StateUninitialized); err != nil {
		return err
	}
	if m.vocabs == nil {
		return errors.New("Build() requires the vocabularies")
	}
	if m.cfg.IsLoading() {
		if err := m.Load(m.cfg.ModelLoadPath); err != nil {
			return err
		}
	}
	if m.cfg.IsSaving() && !m.cfg.Release {
		if err := m.attachSaveCheckpoint(); err != nil {
			return err
		}
	}
	if err := m.buildExecutors(); err != nil {
		return err
	}

	// Executing the prediction graph once creates the variables, and initializes or loads them.
	if _, err := m.predictExamples([]*reader.Example{m.parser.ParseLine("")}); err != nil {
		return errors.WithMessage(err, "failed to initialize the model variables")
	}
	if loader, ok := m.ctx.Loader().(*weightsLoader); ok && len(loader.values) > 0 {
		klog.Warningf("%d variables of the weights file were not used by the model: %v",
			len(loader.values), loader.names())
	}
	m.state = StateBuilt
	klog.Infof("model built: %d parameters, %d epochs trained", m.ctx.NumParameters(), m.nrEpochsTrained)
	if klog.V(1).Enabled() {
		fmt.Println(VariablesReport(m.ctx))
	}
	return nil
}

// attachSaveCheckpoint creates the checkpoint handler of the save directory.
// It reuses the handler of the loaded model if it is the same directory.
func (m *Model) attachSaveCheckpoint() error {
	saveDir := config.FullModelPath(m.cfg.ModelSavePath)
	if m.checkpoint != nil && sameDir(m.loadedDir, saveDir) {
		return nil
	}
	entries, err := filepath.Glob(filepath.Join(saveDir, "checkpoint-*"+checkpoints.JsonNameSuffix))
	if err != nil {
		return errors.Wrapf(err, "failed to list %q", saveDir)
	}
	if len(entries) > 0 {
		return errors.Wrapf(ErrForeignCheckpoints, "%q has %d checkpoints", saveDir, len(entries))
	}
	if err := os.MkdirAll(saveDir, 0777); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory %q", saveDir)
	}
	m.checkpoint, err = checkpoints.Build(m.rootCtx).
		Dir(saveDir).
		Keep(m.cfg.MaxToKeep).
		ExcludeAllParams().
		Done()
	if err != nil {
		return errors.WithMessagef(err, "failed to create checkpoint handler for %q", saveDir)
	}
	return nil
}

func sameDir(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// modelGraph is the model function given to the trainer: it returns the logits.
func (m *Model) modelGraph(ctx *context.Context, _ any, inputs []*Node) []*Node {
	net := BuildNetwork(ctx.Checked(false), m.cfg, m.sizes, inputs[0], inputs[1], inputs[2], inputs[3])
	return []*Node{net.Logits}
}

// lossGraph is the mean sparse categorical cross-entropy of the logits.
func lossGraph(labels, predictions []*Node) *Node {
	return ReduceAllMean(losses.SparseCategoricalCrossEntropyLogits(labels, predictions[:1]))
}

// evalGraph returns, for inputs (sources, paths, targets, mask, labels): the sum of the losses,
// the top-k indices and scores of the predictor, and the code vectors.
func (m *Model) evalGraph(ctx *context.Context, inputs []*Node) []*Node {
	net := BuildNetwork(ctx, m.cfg, m.sizes, inputs[0], inputs[1], inputs[2], inputs[3])
	lossSum := ReduceAllSum(losses.SparseCategoricalCrossEntropyLogits(inputs[4:5], []*Node{net.Logits}))
	indices, scores := m.predictor.TopK(net.Probabilities())
	return []*Node{lossSum, indices, scores, net.CodeVectors}
}

// predictGraph returns, for inputs (sources, paths, targets, mask): the top-k indices and scores,
// the code vectors and the attention weights.
func (m *Model) predictGraph(ctx *context.Context, inputs []*Node) []*Node {
	net := BuildNetwork(ctx, m.cfg, m.sizes, inputs[0], inputs[1], inputs[2], inputs[3])
	indices, scores := m.predictor.TopK(net.Probabilities())
	return []*Node{indices, scores, net.CodeVectors, net.AttentionWeights}
}

func (m *Model) buildExecutors() (err error) {
	m.trainer = train.NewTrainer(m.backend, m.ctx, m.modelGraph, lossGraph,
		optimizers.FromContext(m.ctx),
		[]metrics.Interface{
			metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01),
			m.predictor.newTopKAccuracy(m.cfg.TopKWords, 0.01),
		},
		[]metrics.Interface{
			metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc"),
			m.predictor.newTopKAccuracy(m.cfg.TopKWords, 0),
		})
	m.evalExec, err = context.NewExec(m.backend, m.ctx, m.evalGraph)
	if err != nil {
		return errors.WithMessage(err, "failed to create evaluation executor")
	}
	m.predictExec, err = context.NewExec(m.backend, m.ctx, m.predictGraph)
	if err != nil {
		return errors.WithMessage(err, "failed to create prediction executor")
	}
	return nil
}
