// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package code2vec

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/code2vec/internal/atomicfile"
	"github.com/gomlx/code2vec/pkg/config"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"
)

const (
	// PointerFileName is the name of the file, in the full checkpoints directory, that names the
	// latest complete checkpoint.
	PointerFileName = "checkpoint"

	// epochsPrefix prefixes the number of epochs trained in CheckpointPointer.Latest.
	epochsPrefix = "ckpt-"
)

// CheckpointPointer is the contents of the pointer file of a full checkpoints directory.
// It is only rewritten once the checkpoint it points to is complete.
type CheckpointPointer struct {
	// Latest is "ckpt-<n>", where n is the number of epochs trained.
	Latest string `json:"latest"`

	// Checkpoint is the base name of the files of the latest complete checkpoint.
	Checkpoint string `json:"checkpoint"`

	// All lists the base names of all checkpoints kept, oldest first.
	All []string `json:"all"`

	RunID   string    `json:"run_id"`
	SavedAt time.Time `json:"saved_at"`
}

// NumEpochs parses the number of epochs trained from Latest.
func (p *CheckpointPointer) NumEpochs() (int, error) {
	numStr, found := strings.CutPrefix(p.Latest, epochsPrefix)
	if !found {
		return 0, errors.Errorf("invalid checkpoint pointer %q, expected %q prefix", p.Latest, epochsPrefix)
	}
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid checkpoint pointer %q", p.Latest)
	}
	return n, nil
}

// ReadCheckpointPointer reads the pointer file of the full checkpoints directory.
// It returns nil and no error if there is no pointer file.
func ReadCheckpointPointer(dir string) (*CheckpointPointer, error) {
	pointerPath := filepath.Join(dir, PointerFileName)
	data, err := os.ReadFile(pointerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read checkpoint pointer %q", pointerPath)
	}
	pointer := &CheckpointPointer{}
	if err = json.Unmarshal(data, pointer); err != nil {
		return nil, errors.Wrapf(err, "failed to parse checkpoint pointer %q", pointerPath)
	}
	return pointer, nil
}

func writeCheckpointPointer(dir string, pointer *CheckpointPointer) error {
	data, err := json.MarshalIndent(pointer, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode checkpoint pointer")
	}
	return atomicfile.WriteBytes(filepath.Join(dir, PointerFileName), data)
}

// Load the model saved at path. It must be called before Build (which calls it if Config.ModelLoadPath is set).
//
// When training, or if there is no weights-only file, it restores the full checkpoint: variables,
// optimizer state and number of epochs trained. Otherwise, it loads only the weights, and the model
// starts from 0 epochs trained.
func (m *Model) Load(path string) error {
	if err := m.checkState("Load", StateUninitialized); err != nil {
		return err
	}
	fullDir := config.FullModelPath(path)
	pointer, err := ReadCheckpointPointer(fullDir)
	if err != nil {
		return err
	}
	weightsPath := config.ModelWeightsPath(path)
	_, statErr := os.Stat(weightsPath)
	hasWeights := statErr == nil
	if pointer == nil && (m.cfg.IsTraining() || !hasWeights) {
		return errors.Wrapf(ErrNoFullCheckpoint, "loading model %q", path)
	}
	if m.cfg.IsTraining() || !hasWeights {
		return m.loadFull(fullDir, pointer)
	}
	return m.loadWeights(weightsPath)
}

// loadFull removes the partial checkpoints, newer than the one named by the pointer, and restores
// the latest checkpoint.
func (m *Model) loadFull(dir string, pointer *CheckpointPointer) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "failed to list checkpoints in %q", dir)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "checkpoint-") {
			continue
		}
		baseName := strings.TrimSuffix(strings.TrimSuffix(name, checkpoints.JsonNameSuffix), checkpoints.BinDataSuffix)
		if baseName > pointer.Checkpoint {
			klog.Warningf("removing partial checkpoint file %q", name)
			if err = os.Remove(filepath.Join(dir, name)); err != nil {
				return errors.Wrapf(err, "failed to remove partial checkpoint %q", name)
			}
		}
	}
	if _, err = os.Stat(filepath.Join(dir, pointer.Checkpoint+checkpoints.JsonNameSuffix)); err != nil {
		return errors.Wrapf(err, "checkpoint %q named by the pointer is missing", pointer.Checkpoint)
	}

	m.nrEpochsTrained, err = pointer.NumEpochs()
	if err != nil {
		return err
	}
	m.checkpoint, err = checkpoints.Load(m.rootCtx).
		Dir(dir).
		Keep(m.cfg.MaxToKeep).
		ExcludeAllParams().
		Done()
	if err != nil {
		return errors.WithMessagef(err, "failed to load checkpoint from %q", dir)
	}
	m.loadedDir = dir
	klog.Infof("loaded full checkpoint %q (%d epochs trained)", pointer.Checkpoint, m.nrEpochsTrained)
	return nil
}

// Save the model to path: the vocabularies next to it, and either a weights-only file (Config.Release)
// or a new full checkpoint.
func (m *Model) Save(path string) error {
	if err := m.checkState("Save", StateBuilt); err != nil {
		return err
	}
	return m.save(path)
}

func (m *Model) save(path string) error {
	if err := m.vocabs.Save(config.VocabulariesPathFromModelPath(path)); err != nil {
		return err
	}
	if m.cfg.Release {
		return m.saveWeights(config.ModelWeightsPath(path))
	}
	return m.saveFull(config.FullModelPath(path))
}

func (m *Model) saveFull(dir string) error {
	if m.checkpoint == nil || !sameDir(m.checkpoint.Dir(), dir) {
		return errors.Errorf("model has no checkpoint handler for %q, it can only be saved to Config.ModelSavePath", dir)
	}
	if err := m.checkpoint.Save(); err != nil {
		return errors.WithMessagef(err, "failed to save checkpoint to %q", dir)
	}
	all, err := m.checkpoint.ListCheckpoints()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return errors.Errorf("no checkpoint found in %q after saving", dir)
	}
	pointer := &CheckpointPointer{
		Latest:     fmt.Sprintf("%s%d", epochsPrefix, m.nrEpochsTrained),
		Checkpoint: all[len(all)-1],
		All:        all,
		RunID:      m.runID.String(),
		SavedAt:    time.Now(),
	}
	if err = writeCheckpointPointer(dir, pointer); err != nil {
		return err
	}
	m.unsavedEpochs = 0
	klog.Infof("saved checkpoint %q (%d epochs trained)", pointer.Checkpoint, m.nrEpochsTrained)
	return nil
}

// weightsHeader starts the weights-only file. It is followed by the gob serialized tensors, in order.
type weightsHeader struct {
	RunID string
	Names []string
}

func (m *Model) saveWeights(filePath string) error {
	var names []string
	var values []*tensors.Tensor
	for v := range m.ctx.IterVariablesInScope() {
		if !v.Trainable {
			continue
		}
		names = append(names, variablePath(v.Scope(), v.Name()))
		values = append(values, v.MustValue())
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0777); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", filePath)
	}
	err := atomicfile.Write(filePath, func(w io.Writer) error {
		enc := gob.NewEncoder(w)
		if err := enc.Encode(weightsHeader{RunID: m.runID.String(), Names: names}); err != nil {
			return errors.Wrap(err, "failed to encode header")
		}
		for ii, value := range values {
			if err := value.GobSerialize(enc); err != nil {
				return errors.WithMessagef(err, "failed to encode %q", names[ii])
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	klog.Infof("saved model weights (%d variables) to %q", len(names), filePath)
	return nil
}

func (m *Model) loadWeights(filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open weights file")
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(f)
	var header weightsHeader
	if err = dec.Decode(&header); err != nil {
		return errors.Wrapf(err, "failed to decode header of %q", filePath)
	}
	loader := &weightsLoader{values: make(map[string]*tensors.Tensor, len(header.Names))}
	for _, name := range header.Names {
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			return errors.WithMessagef(err, "failed to decode %q from %q", name, filePath)
		}
		loader.values[name] = value
	}
	m.ctx.SetLoader(loader)
	m.nrEpochsTrained = 0
	klog.Infof("loaded model weights (%d variables) from %q", len(header.Names), filePath)
	return nil
}

// variablePath is the absolute path of a variable, e.g. "/model/attention/weights".
func variablePath(scope, name string) string {
	if strings.HasSuffix(scope, context.ScopeSeparator) {
		return scope + name
	}
	return scope + context.ScopeSeparator + name
}

// weightsLoader implements context.Loader for the variables of a weights-only file.
type weightsLoader struct {
	values map[string]*tensors.Tensor
}

var _ context.Loader = (*weightsLoader)(nil)

// LoadVariable implements context.Loader. Ownership of the value is transferred to the context.
func (l *weightsLoader) LoadVariable(_ *context.Context, scope, name string) (*tensors.Tensor, bool) {
	key := variablePath(scope, name)
	value, found := l.values[key]
	if found {
		delete(l.values, key)
	}
	return value, found
}

// DeleteVariable implements context.Loader.
func (l *weightsLoader) DeleteVariable(_ *context.Context, scope, name string) error {
	delete(l.values, variablePath(scope, name))
	return nil
}

// names of the variables not yet loaded, sorted.
func (l *weightsLoader) names() []string {
	return slices.Sorted(maps.Keys(l.values))
}
