// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reader reads path-contexts files and yields batches of examples as a GoMLX train.Dataset.
//
// Each line of a path-contexts file is one example: the target name followed by up to MaxContexts
// path-contexts "<source>,<path>,<target-token>", all separated by spaces.
package reader

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gomlx/code2vec/pkg/config"
	"github.com/gomlx/code2vec/pkg/vocab"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Mode in which the examples are consumed.
type Mode int

const (
	// ModeTrain shuffles the examples and drops those with an OOV target or without valid contexts.
	ModeTrain Mode = iota

	// ModeEvaluate keeps the order of the examples, drops those without valid contexts, and yields the
	// raw target names of the batch (as Targets) in the spec.
	ModeEvaluate

	// ModePredict keeps every example.
	ModePredict
)

//go:generate go tool enumer -type=Mode -trimprefix=Mode -output=gen_mode_enumer.go reader.go

// ErrNoExamples is returned by a repeating Reader when a whole pass over the file yields no example
// accepted by its mode.
var ErrNoExamples = errors.New("no example accepted in the path-contexts file")

// Targets are the raw target names of the examples of a batch, yielded as the spec in ModeEvaluate.
//
// Datasets in ModeEvaluate shouldn't be given to a train.Trainer: it keys its compiled graphs on the spec.
type Targets []string

// Reader implements train.Dataset for a path-contexts file.
//
// It is safe for concurrent use: lines are read under a lock, and parsed and batched outside it.
// Use Parallel to generate batches in parallel.
type Reader struct {
	*Parser

	name      string
	filePath  string
	mode      Mode
	repeat    bool
	batchSize int

	bufferSize, shuffleBufferSize, parallelism int

	mu            sync.Mutex
	file          *os.File
	lines         *bufio.Reader
	linesRead     int
	exhausted     bool
	err           error
	shuffleBuffer []bufferedLine
	rng           *rand.Rand

	// Accounting of the first pass over the file, to detect files without any accepted example.
	passes            int
	firstPassLines    int
	firstPassConsumed int
	keptAny           bool
}

type bufferedLine struct {
	line      string
	firstPass bool
}

var _ train.Dataset = (*Reader)(nil)

// New creates a Reader for the data file of the given mode (the training data for ModeTrain,
// the test data otherwise).
//
// If repeat is true, the file is reopened when it reaches the end, and the Reader never returns io.EOF.
// Instead, if a whole pass over the file has no example accepted by the mode, it returns ErrNoExamples.
func New(cfg config.Config, vocabs *vocab.Vocabularies, mode Mode, repeat bool) (*Reader, error) {
	if mode == ModePredict {
		return nil, errors.New("reader.New doesn't support ModePredict: use a Parser to parse the lines to predict")
	}
	isEvaluating := mode == ModeEvaluate
	r := &Reader{
		Parser:            NewParser(vocabs, cfg.MaxContexts),
		filePath:          cfg.DataPath(isEvaluating),
		mode:              mode,
		repeat:            repeat,
		batchSize:         cfg.BatchSize(isEvaluating),
		bufferSize:        cfg.CSVBufferSize,
		shuffleBufferSize: cfg.ShuffleBufferSize,
		parallelism:       cfg.ReaderNumParallelBatches,
		rng:               rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	r.resetPasses()
	r.name = fmt.Sprintf("%s-%s", filepath.Base(r.filePath), mode)
	if mode != ModeTrain {
		r.shuffleBufferSize = 0
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

// Name implements train.Dataset.
func (r *Reader) Name() string { return r.name }

// ShortName implements train.HasShortName.
func (r *Reader) ShortName() string {
	if r.mode == ModeTrain {
		return "Trn"
	}
	return "Val"
}

// Mode returns the mode of the reader.
func (r *Reader) Mode() Mode { return r.mode }

// open must be called with the lock held (or during construction).
func (r *Reader) open() error {
	f, err := os.Open(r.filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open path-contexts file for %s", r.mode)
	}
	r.file = f
	r.lines = bufio.NewReaderSize(f, r.bufferSize)
	r.linesRead = 0
	return nil
}

func (r *Reader) resetPasses() {
	r.passes = 0
	r.firstPassLines = -1
	r.firstPassConsumed = 0
	r.keptAny = false
}

// Reset implements train.Dataset. It restarts reading from the start of the file.
func (r *Reader) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	r.shuffleBuffer = r.shuffleBuffer[:0]
	r.exhausted = false
	r.err = nil
	r.resetPasses()
	if err := r.open(); err != nil {
		klog.Errorf("reader %q: %+v", r.name, err)
		r.exhausted = true
	}
}

// Close the underlying file.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted = true
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return errors.Wrapf(err, "failed to close %q", r.filePath)
}

// readLine reads the next non-blank line of the file, reopening it at the end if repeating.
// It must be called with the lock held.
func (r *Reader) readLine() (bufferedLine, error) {
	for {
		if r.file == nil {
			return bufferedLine{}, io.EOF
		}
		line, err := r.lines.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			r.linesRead++
			return bufferedLine{line: line, firstPass: r.passes == 0}, nil
		}
		if err == nil {
			continue
		}
		if err != io.EOF {
			return bufferedLine{}, errors.Wrapf(err, "failed to read %q", r.filePath)
		}
		if !r.repeat || r.linesRead == 0 {
			return bufferedLine{}, io.EOF
		}
		if r.passes == 0 {
			r.firstPassLines = r.linesRead
		}
		r.passes++
		_ = r.file.Close()
		if err = r.open(); err != nil {
			r.file = nil
			return bufferedLine{}, err
		}
	}
}

// fail makes err sticky: it is returned by every following read until Reset.
// It must be called with the lock held.
func (r *Reader) fail(err error) error {
	if r.err == nil {
		r.err = err
	}
	r.exhausted = true
	return r.err
}

// nextLine returns the next line, through the shuffle buffer if shuffling.
func (r *Reader) nextLine() (bufferedLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exhausted {
		if r.err != nil {
			return bufferedLine{}, r.err
		}
		return bufferedLine{}, io.EOF
	}
	if r.shuffleBufferSize <= 1 {
		line, err := r.readLine()
		if err == io.EOF {
			r.exhausted = true
		} else if err != nil {
			return bufferedLine{}, r.fail(err)
		}
		return line, err
	}
	for len(r.shuffleBuffer) < r.shuffleBufferSize {
		line, err := r.readLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return bufferedLine{}, r.fail(err)
		}
		r.shuffleBuffer = append(r.shuffleBuffer, line)
	}
	n := len(r.shuffleBuffer)
	if n == 0 {
		r.exhausted = true
		return bufferedLine{}, io.EOF
	}
	idx := r.rng.IntN(n)
	line := r.shuffleBuffer[idx]
	r.shuffleBuffer[idx] = r.shuffleBuffer[n-1]
	r.shuffleBuffer = r.shuffleBuffer[:n-1]
	return line, nil
}

// account registers whether a consumed line was kept. It returns ErrNoExamples once every line of the
// first pass was consumed and none was kept: later passes read the same lines.
func (r *Reader) account(line bufferedLine, kept bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keptAny {
		return nil
	}
	if kept {
		r.keptAny = true
		return nil
	}
	if line.firstPass {
		r.firstPassConsumed++
	}
	if r.firstPassLines >= 0 && r.firstPassConsumed >= r.firstPassLines {
		return r.fail(errors.Wrapf(ErrNoExamples, "%d lines of %q read for %s", r.firstPassLines, r.filePath, r.mode))
	}
	return nil
}

// keep returns whether the example is used in the reader's mode.
func (r *Reader) keep(e *Example) bool {
	switch r.mode {
	case ModeTrain:
		return int(e.TargetIndex) > r.vocabs.Target.OOVIndex() && e.NumValidContexts() > 0
	case ModeEvaluate:
		return e.NumValidContexts() > 0
	default:
		return true
	}
}

// NextExamples parses up to batchSize examples accepted by the reader's mode.
// It returns fewer examples at the end of the file, and io.EOF once there are no more.
// A repeating Reader returns ErrNoExamples instead of looping forever on a file without accepted examples.
func (r *Reader) NextExamples() ([]*Example, error) {
	examples := make([]*Example, 0, r.batchSize)
	for len(examples) < r.batchSize {
		line, err := r.nextLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		e := r.ParseLine(line.line)
		kept := r.keep(e)
		if kept {
			examples = append(examples, e)
		}
		if err = r.account(line, kept); err != nil {
			return nil, err
		}
	}
	if len(examples) == 0 {
		return nil, io.EOF
	}
	return examples, nil
}

// Yield implements train.Dataset.
//
// Inputs are the source indices, path indices, target indices and mask, see Parser.Inputs.
// Labels are the target indices shaped [batch, 1]. In ModeEvaluate, spec holds the Targets of the batch.
// The last batch of a file may be shorter than the batch size.
func (r *Reader) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	examples, err := r.NextExamples()
	if err != nil {
		return nil, nil, nil, err
	}
	if r.mode == ModeEvaluate {
		targets := make(Targets, len(examples))
		for ii, e := range examples {
			targets[ii] = e.TargetName
		}
		spec = targets
	}
	return spec, r.Inputs(examples), []*tensors.Tensor{r.Labels(examples)}, nil
}

// Parallel returns the reader wrapped in a started datasets.ParallelDataset that generates batches with
// ReaderNumParallelBatches goroutines. The order of the batches is not preserved.
//
// A repeating Reader is first checked for accepted examples, so ErrNoExamples is returned here and not
// from the parallel goroutines.
//
// Call ParallelDataset.Done when finished with it.
func (r *Reader) Parallel() (*datasets.ParallelDataset, error) {
	if r.repeat {
		if _, err := r.NextExamples(); err != nil && err != io.EOF {
			return nil, err
		}
		r.Reset()
	}
	return datasets.CustomParallel(r).
		Parallelism(r.parallelism).
		Buffer(r.parallelism).
		Start(), nil
}
