// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vocab

import (
	"bufio"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/code2vec/internal/atomicfile"
	"github.com/gomlx/code2vec/pkg/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Vocabularies groups the token, path and target vocabularies of a model.
type Vocabularies struct {
	Token, Path, Target *Vocabulary
}

// Get returns the vocabulary of the given type.
func (v *Vocabularies) Get(vocabType Type) *Vocabulary {
	switch vocabType {
	case TypeToken:
		return v.Token
	case TypePath:
		return v.Path
	case TypeTarget:
		return v.Target
	}
	return nil
}

// savedVocabularies is the gob-encoded contents of the vocabularies file.
type savedVocabularies struct {
	Tokens, Paths, Targets []string
}

// Save the vocabularies to filePath, atomically.
func (v *Vocabularies) Save(filePath string) error {
	saved := savedVocabularies{
		Tokens:  v.Token.regularWords(),
		Paths:   v.Path.regularWords(),
		Targets: v.Target.regularWords(),
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0777); err != nil {
		return errors.Wrapf(err, "failed to create directory for vocabularies %q", filePath)
	}
	err := atomicfile.Write(filePath, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(&saved)
	})
	if err != nil {
		return errors.WithMessage(err, "failed to save vocabularies")
	}
	klog.V(1).Infof("saved vocabularies to %q", filePath)
	return nil
}

// Load vocabularies saved with Vocabularies.Save.
func Load(filePath string) (*Vocabularies, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open vocabularies file")
	}
	defer func() { _ = f.Close() }()
	var saved savedVocabularies
	if err = gob.NewDecoder(bufio.NewReader(f)).Decode(&saved); err != nil {
		return nil, errors.Wrapf(err, "failed to decode vocabularies from %q", filePath)
	}
	v := &Vocabularies{}
	if v.Token, err = New(TypeToken, saved.Tokens); err != nil {
		return nil, errors.WithMessagef(err, "vocabularies file %q", filePath)
	}
	if v.Path, err = New(TypePath, saved.Paths); err != nil {
		return nil, errors.WithMessagef(err, "vocabularies file %q", filePath)
	}
	if v.Target, err = New(TypeTarget, saved.Targets); err != nil {
		return nil, errors.WithMessagef(err, "vocabularies file %q", filePath)
	}
	return v, nil
}

// FromWordFrequencies creates the vocabularies with the most frequent words, truncated to the
// maximum sizes configured.
func FromWordFrequencies(wf *WordFrequencies, cfg config.Config) (*Vocabularies, error) {
	v := &Vocabularies{}
	var err error
	if v.Token, err = FromWordCounts(TypeToken, wf.Tokens, cfg.MaxTokenVocabSize); err != nil {
		return nil, err
	}
	if v.Path, err = FromWordCounts(TypePath, wf.Paths, cfg.MaxPathVocabSize); err != nil {
		return nil, err
	}
	if v.Target, err = FromWordCounts(TypeTarget, wf.Targets, cfg.MaxTargetVocabSize); err != nil {
		return nil, err
	}
	return v, nil
}

// FromConfig loads the vocabularies stored next to the model being loaded or, if not loading a
// model, creates them from the word-frequency dictionary of the training data.
// If saving a model, the vocabularies are saved next to it.
func FromConfig(cfg config.Config) (v *Vocabularies, err error) {
	if cfg.IsLoading() {
		vocabPath := config.VocabulariesPathFromModelPath(cfg.ModelLoadPath)
		v, err = Load(vocabPath)
		if err != nil {
			return nil, err
		}
		klog.Infof("loaded vocabularies from %q", vocabPath)
	} else {
		wf, err := LoadWordFrequencies(cfg.WordFreqDictPath())
		if err != nil {
			return nil, err
		}
		v, err = FromWordFrequencies(wf, cfg)
		if err != nil {
			return nil, err
		}
		klog.Infof("created vocabularies from %q", cfg.WordFreqDictPath())
	}
	klog.Infof("vocabulary sizes: token=%s, path=%s, target=%s",
		humanize.Comma(int64(v.Token.Size())), humanize.Comma(int64(v.Path.Size())),
		humanize.Comma(int64(v.Target.Size())))
	if cfg.IsSaving() {
		if err = v.Save(config.VocabulariesPathFromModelPath(cfg.ModelSavePath)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// WordFrequencies holds the number of occurrences of each word in the training data, and the number
// of training examples. It is stored in the "<prefix>.dict.c2v" file.
type WordFrequencies struct {
	Tokens, Paths, Targets map[string]int
	NumTrainExamples       int
}

// NewWordFrequencies returns an empty WordFrequencies.
func NewWordFrequencies() *WordFrequencies {
	return &WordFrequencies{
		Tokens:  make(map[string]int),
		Paths:   make(map[string]int),
		Targets: make(map[string]int),
	}
}

// Save the word frequencies to filePath, atomically.
func (wf *WordFrequencies) Save(filePath string) error {
	err := atomicfile.Write(filePath, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(wf)
	})
	return errors.WithMessage(err, "failed to save word frequencies")
}

// LoadWordFrequencies from the "<prefix>.dict.c2v" file.
func LoadWordFrequencies(filePath string) (*WordFrequencies, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open word frequencies dictionary")
	}
	defer func() { _ = f.Close() }()
	wf := NewWordFrequencies()
	if err = gob.NewDecoder(bufio.NewReader(f)).Decode(wf); err != nil {
		return nil, errors.Wrapf(err, "failed to decode word frequencies from %q", filePath)
	}
	return wf, nil
}

// CountWordFrequencies counts the words of a path-contexts file (one example per line:
// "<target> <source>,<path>,<target-token> ...").
//
// Only the first maxContexts contexts of each line are counted, the same ones the reader uses.
func CountWordFrequencies(r io.Reader, maxContexts int) (*WordFrequencies, error) {
	wf := NewWordFrequencies()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		wf.NumTrainExamples++
		wf.Targets[fields[0]]++
		contexts := fields[1:]
		if len(contexts) > maxContexts {
			contexts = contexts[:maxContexts]
		}
		for _, context := range contexts {
			parts := strings.Split(context, ",")
			if len(parts) != 3 {
				continue
			}
			wf.Tokens[parts[0]]++
			wf.Paths[parts[1]]++
			wf.Tokens[parts[2]]++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read path-contexts")
	}
	return wf, nil
}
