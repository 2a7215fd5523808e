// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"math"
	"os"
	"slices"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// LoadParamsFile overlays the hyperparameters in the YAML file at filePath onto ctx.
//
// The file is a flat mapping of param key to value, e.g.:
//
//	num_epochs: 5
//	dropout_keep_rate: 0.5
//	optimizer: adam
//
// Like with "-set" in the command line, every key must already have a default in ctx, and its
// value is converted to the type of the default. A missing file is not an error: it returns
// no params set.
//
// It returns the keys that were set, sorted.
func LoadParamsFile(ctx *context.Context, filePath string) (paramsSet []string, err error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			klog.V(1).Infof("params file %q not found, skipping", filePath)
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read params file %q", filePath)
	}
	var values map[string]any
	if err = yaml.Unmarshal(contents, &values); err != nil {
		return nil, errors.Wrapf(err, "failed to parse params file %q", filePath)
	}
	for _, key := range slices.Sorted(maps.Keys(values)) {
		current, found := ctx.GetParam(key)
		if !found {
			return nil, errors.Errorf("params file %q: unknown param %q", filePath, key)
		}
		value, err := convertParam(current, values[key])
		if err != nil {
			return nil, errors.WithMessagef(err, "params file %q: param %q", filePath, key)
		}
		ctx.SetParam(key, value)
		paramsSet = append(paramsSet, key)
	}
	return paramsSet, nil
}

// convertParam converts the value decoded from YAML to the type of the current value of the param.
func convertParam(current, value any) (any, error) {
	switch current.(type) {
	case int:
		switch v := value.(type) {
		case int:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, errors.Errorf("expected an integer, got %g", v)
			}
			return int(v), nil
		}
	case float64:
		switch v := value.(type) {
		case int:
			return float64(v), nil
		case float64:
			return v, nil
		}
	case bool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case string:
		if v, ok := value.(string); ok {
			return v, nil
		}
	default:
		return nil, errors.Errorf("params of type %T can't be set from a params file", current)
	}
	return nil, errors.Errorf("expected a value of type %T, got %T (%v)", current, value, value)
}
