// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// code2vec trains, evaluates and serves a code2vec model.
//
// Typical uses:
//
//	# Build the word-frequency dictionary of the training data (<prefix>.dict.c2v).
//	code2vec -data=data/java14m/java14m -build_dict
//
//	# Train, evaluating on the test data after every epoch.
//	code2vec -data=data/java14m/java14m -test=data/java14m/java14m.val.c2v -save=models/java14m/saved_model
//
//	# Evaluate a trained model, and release it (weights only).
//	code2vec -load=models/java14m/saved_model -test=data/java14m/java14m.test.c2v
//	code2vec -load=models/java14m/saved_model -save=models/java14m/released -release
//
//	# Predict names for the path-contexts lines of a file ("-" for stdin).
//	code2vec -load=models/java14m/released -predict=-
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gomlx/code2vec/internal/atomicfile"
	"github.com/gomlx/code2vec/pkg/code2vec"
	"github.com/gomlx/code2vec/pkg/config"
	"github.com/gomlx/code2vec/pkg/reader"
	"github.com/gomlx/code2vec/pkg/vocab"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagData = flag.String("data", "",
		"Path prefix of the training data: <prefix>.train.c2v and the word-frequency dictionary <prefix>.dict.c2v.")
	flagTest    = flag.String("test", "", "Path of the test (or validation) data file.")
	flagSave    = flag.String("save", "", "Path where to save the model: files are created with this prefix.")
	flagLoad    = flag.String("load", "", "Path of a saved model to load.")
	flagRelease = flag.Bool("release", false,
		"Save only the model weights, without the optimizer state. Released models can't be trained further.")
	flagExportCodeVectors = flag.Bool("export_code_vectors", false,
		"When evaluating, write the code vector of each test example to <test>"+code2vec.VectorsFileSuffix)
	flagSaveW2V   = flag.String("save_w2v", "", "Save the token embeddings in word2vec format to this file.")
	flagSaveT2V   = flag.String("save_t2v", "", "Save the target embeddings in word2vec format to this file.")
	flagPredict   = flag.String("predict", "", "File with path-contexts lines to predict names for, or \"-\" for stdin.")
	flagConfig    = flag.String("config", "", "YAML file with hyperparameters, applied before -set.")
	flagBuildDict = flag.Bool("build_dict", false,
		"Build the word-frequency dictionary <prefix>.dict.c2v from <prefix>.train.c2v and exit.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

func main() {
	_ = godotenv.Load()
	ctx := context.New()
	config.SetDefaultParams(ctx)
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	err := exceptions.TryCatch[error](func() { must.M(run(ctx, *settings)) })
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func run(ctx *context.Context, settings string) error {
	var paramsSet []string
	if *flagConfig != "" {
		fromFile, err := config.LoadParamsFile(ctx, *flagConfig)
		if err != nil {
			return err
		}
		paramsSet = append(paramsSet, fromFile...)
	}
	fromSettings, err := commandline.ParseContextSettings(ctx, settings)
	if err != nil {
		return err
	}
	paramsSet = append(paramsSet, fromSettings...)
	if *flagBuildDict {
		return buildDict(ctx)
	}

	cfg, err := config.New(ctx, config.Paths{
		TrainDataPathPrefix: *flagData,
		TestDataPath:        *flagTest,
		ModelSavePath:       *flagSave,
		ModelLoadPath:       *flagLoad,
		Release:             *flagRelease,
		ExportCodeVectors:   *flagExportCodeVectors,
	})
	if err != nil {
		return err
	}
	if *flagVerbosity >= 1 {
		fmt.Println(commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}

	var numTrain, numTest int
	if cfg.IsTraining() {
		wf, err := vocab.LoadWordFrequencies(cfg.WordFreqDictPath())
		if err != nil {
			return err
		}
		numTrain = wf.NumTrainExamples
	}
	if cfg.IsTesting() {
		if numTest, err = reader.CountLines(cfg.TestDataPath, *flagVerbosity >= 1); err != nil {
			return err
		}
	}
	cfg = cfg.WithExampleCounts(numTrain, numTest)
	klog.V(1).Infof("configuration: %s", cfg)

	vocabs, err := vocab.FromConfig(cfg)
	if err != nil {
		return err
	}
	backend, err := backends.New()
	if err != nil {
		return errors.WithMessage(err, "failed to create backend")
	}
	defer backend.Finalize()
	if *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	model := code2vec.New(backend, ctx, cfg, vocabs).WithProgressBar(*flagVerbosity >= 1)
	if err = model.Build(); err != nil {
		return err
	}
	if cfg.IsTraining() {
		if err = model.Train(); err != nil {
			return err
		}
	} else if cfg.IsSaving() {
		// Re-save a loaded model, typically to release it.
		if err = model.Save(cfg.ModelSavePath); err != nil {
			return err
		}
	}
	if cfg.IsTesting() {
		results, err := model.Evaluate()
		if err != nil {
			return err
		}
		fmt.Println(code2vec.EvaluationReport(results))
	}
	if err = saveWord2Vec(model, *flagSaveW2V, vocab.TypeToken); err != nil {
		return err
	}
	if err = saveWord2Vec(model, *flagSaveT2V, vocab.TypeTarget); err != nil {
		return err
	}
	if *flagPredict != "" {
		return predict(model, *flagPredict)
	}
	return nil
}

// buildDict counts the words of the training data and saves the word-frequency dictionary.
func buildDict(ctx *context.Context) error {
	if *flagData == "" {
		return errors.New("-build_dict requires -data")
	}
	paths := config.Paths{TrainDataPathPrefix: *flagData}
	cfg, err := config.New(ctx, paths)
	if err != nil {
		return err
	}
	f, err := os.Open(cfg.TrainDataPath())
	if err != nil {
		return errors.Wrap(err, "failed to open training data")
	}
	defer func() { _ = f.Close() }()
	wf, err := vocab.CountWordFrequencies(bufio.NewReaderSize(f, cfg.CSVBufferSize), cfg.MaxContexts)
	if err != nil {
		return err
	}
	if err = wf.Save(cfg.WordFreqDictPath()); err != nil {
		return err
	}
	fmt.Printf("Word-frequency dictionary of %d examples saved to %q: %d tokens, %d paths, %d targets\n",
		wf.NumTrainExamples, cfg.WordFreqDictPath(), len(wf.Tokens), len(wf.Paths), len(wf.Targets))
	return nil
}

func saveWord2Vec(model *code2vec.Model, filePath string, vocabType vocab.Type) error {
	if filePath == "" {
		return nil
	}
	err := atomicfile.Write(filePath, func(w io.Writer) error {
		return model.SaveWord2VecFormat(w, vocabType)
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s embeddings saved in word2vec format to %q\n", vocabType, filePath)
	return nil
}

// predict reads the lines to predict from filePath, or stdin if it is "-", and prints the predictions.
func predict(model *code2vec.Model, filePath string) error {
	var r io.Reader = os.Stdin
	if filePath != "-" {
		f, err := os.Open(filePath)
		if err != nil {
			return errors.Wrap(err, "failed to open file to predict")
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "failed to read lines to predict")
	}
	results, err := model.Predict(lines)
	if err != nil {
		return err
	}
	for ii := range results {
		fmt.Println(code2vec.PredictionReport(&results[ii]))
	}
	return nil
}
