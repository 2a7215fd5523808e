// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// code2vec_checkpoints reports on the full checkpoints of a saved code2vec model.
//
//	code2vec_checkpoints [-vars] models/java14m/saved_model
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/code2vec/pkg/code2vec"
	"github.com/gomlx/code2vec/pkg/config"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var flagVars = flag.Bool("vars", false, "Lists the variables of the model.")

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one saved model path (the -save path used in training). See 'code2vec_checkpoints -help'")
		os.Exit(1)
	}
	if err := report(args[0]); err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func report(modelPath string) error {
	dir := config.FullModelPath(modelPath)
	pointer, err := code2vec.ReadCheckpointPointer(dir)
	if err != nil {
		return err
	}
	if pointer == nil {
		return errors.Wrapf(code2vec.ErrNoFullCheckpoint, "no %q file in %q", code2vec.PointerFileName, dir)
	}
	ctx := context.New()
	_, err = checkpoints.Build(ctx).Dir(dir).Immediate().Done()
	if err != nil {
		return err
	}
	fmt.Println(code2vec.CheckpointReport(pointer, ctx))
	if *flagVars {
		fmt.Println(code2vec.VariablesReport(ctx.InAbsPath(context.ScopeSeparator + code2vec.ModelScope)))
	}
	return nil
}
