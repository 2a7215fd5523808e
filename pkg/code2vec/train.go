// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"github.com/gomlx/code2vec/pkg/reader"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Train the model for the epochs remaining to reach Config.NumEpochs.
//
// Each epoch runs Config.TrainStepsPerEpoch steps on the repeating training data, then, if there is test data,
// evaluates Config.TestStepsPerEpoch batches of the repeating test data. After each epoch the model is saved
// to Config.ModelSavePath every Config.SaveEveryEpochs epochs, and once more at the end if needed.
func (m *Model) Train() error {
	if err := m.checkState("Train", StateBuilt); err != nil {
		return err
	}
	if !m.cfg.IsTraining() {
		return errors.New("Train() requires training data")
	}
	trainSteps := m.cfg.TrainStepsPerEpoch()
	if trainSteps == 0 {
		return errors.New("Train() requires the number of training examples")
	}
	m.state = StateTraining
	defer func() { m.state = StateBuilt }()

	trainReader, err := reader.New(m.cfg, m.vocabs, reader.ModeTrain, true)
	if err != nil {
		return err
	}
	defer func() { _ = trainReader.Close() }()
	trainDS, err := trainReader.Parallel()
	if err != nil {
		return err
	}
	defer trainDS.Done()

	var evalReader *reader.Reader
	if m.cfg.IsTesting() && m.cfg.TestStepsPerEpoch() > 0 {
		evalReader, err = reader.New(m.cfg, m.vocabs, reader.ModeEvaluate, true)
		if err != nil {
			return err
		}
		defer func() { _ = evalReader.Close() }()
	}

	loop := train.NewLoop(m.trainer)
	if m.progressBar {
		commandline.AttachProgressBar(loop)
	}

	for m.nrEpochsTrained < m.cfg.NumEpochs {
		klog.Infof("starting epoch %d of %d", m.nrEpochsTrained+1, m.cfg.NumEpochs)
		trainMetrics, err := loop.RunSteps(trainDS, trainSteps)
		if err != nil {
			return errors.WithMessagef(err, "training epoch %d", m.nrEpochsTrained+1)
		}
		if len(trainMetrics) > 0 {
			klog.Infof("epoch %d: train loss %s", m.nrEpochsTrained+1, trainMetrics[0])
		}
		if evalReader != nil {
			results, err := m.evaluateSteps(evalReader, m.cfg.TestStepsPerEpoch(), nil)
			if err != nil {
				return errors.WithMessagef(err, "validating epoch %d", m.nrEpochsTrained+1)
			}
			klog.Infof("epoch %d: validation %s", m.nrEpochsTrained+1, results)
		}
		if err = m.onEpochEnd(); err != nil {
			return err
		}
	}
	if m.unsavedEpochs > 0 && m.cfg.IsSaving() {
		return m.save(m.cfg.ModelSavePath)
	}
	return nil
}

// onEpochEnd is called after every training epoch.
func (m *Model) onEpochEnd() error {
	m.nrEpochsTrained++
	m.unsavedEpochs++
	if !m.cfg.IsSaving() || m.unsavedEpochs < m.cfg.SaveEveryEpochs {
		return nil
	}
	if err := m.save(m.cfg.ModelSavePath); err != nil {
		return errors.WithMessagef(err, "saving after epoch %d", m.nrEpochsTrained)
	}
	return nil
}
