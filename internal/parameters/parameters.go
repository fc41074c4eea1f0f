// Package parameters parses configuration strings ("key=value,key2,key3=value3") given by the user,
// and uses them to override the hyperparameters stored in a GoMLX context.
package parameters

import (
	"github.com/gomlx/gomlx/ml/context"
	"github.com/janpfeifer/apagan/internal/generics"
	"github.com/pkg/errors"
	"strconv"
	"strings"
)

// Params maps keys to their unparsed values. A key given without a value maps to "".
type Params map[string]string

// NewFromConfigString parses the configuration string. Empty entries are ignored.
func NewFromConfigString(config string) Params {
	params := make(Params)
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=") // Values may contain '='.
		params[strings.TrimSpace(key)] = value
	}
	return params
}

// Value types supported.
type Value interface {
	bool | int | float32 | float64 | string
}

// PopParamOr is like GetParamOr, but it also deletes the key from params.
func PopParamOr[T Value](params Params, key string, defaultValue T) (T, error) {
	value, err := GetParamOr(params, key, defaultValue)
	if err != nil {
		return value, err
	}
	delete(params, key)
	return value, nil
}

// GetParamOr parses the value of key to the type of defaultValue, or returns defaultValue if the key is
// not present.
//
// For bool, a key without a value means true.
func GetParamOr[T Value](params Params, key string, defaultValue T) (T, error) {
	value, exists := params[key]
	if !exists {
		return defaultValue, nil
	}
	var parsed any
	var err error
	switch any(defaultValue).(type) {
	case string:
		parsed = value
	case int:
		if value == "" {
			return defaultValue, nil
		}
		parsed, err = strconv.Atoi(value)
	case float32:
		if value == "" {
			return defaultValue, nil
		}
		var f float64
		f, err = strconv.ParseFloat(value, 32)
		parsed = float32(f)
	case float64:
		if value == "" {
			return defaultValue, nil
		}
		parsed, err = strconv.ParseFloat(value, 64)
	case bool:
		switch strings.ToLower(value) {
		case "", "true", "1":
			parsed = true
		case "false", "0":
			parsed = false
		default:
			err = errors.New("invalid bool")
		}
	}
	if err != nil {
		return defaultValue, errors.Wrapf(err, "failed to parse configuration %s=%q as %T", key, value, defaultValue)
	}
	return parsed.(T), nil
}

// popToContext parses the value of key with the type of the current value and sets it in ctx.
func popToContext[T Value](params Params, ctx *context.Context, key string, current T) error {
	value, err := PopParamOr(params, key, current)
	if err != nil {
		return err
	}
	ctx.SetParam(key, value)
	return nil
}

// ToContext overrides the root scope hyperparameters of ctx with the values in params, parsed to the
// type of the hyperparameter current value. The keys used are removed from params.
//
// Keys in params that are not hyperparameters of ctx are left in params, see CheckAllUsed.
func ToContext(params Params, ctx *context.Context) error {
	var err error
	ctx.EnumerateParams(func(scope, key string, valueAny any) {
		if err != nil || scope != context.RootScope {
			return
		}
		if _, found := params[key]; !found {
			return
		}
		switch current := valueAny.(type) {
		case string:
			err = popToContext(params, ctx, key, current)
		case int:
			err = popToContext(params, ctx, key, current)
		case float64:
			err = popToContext(params, ctx, key, current)
		case float32:
			err = popToContext(params, ctx, key, current)
		case bool:
			err = popToContext(params, ctx, key, current)
		default:
			err = errors.Errorf("hyperparameter %q is of unsupported type %T", key, current)
		}
	})
	return err
}

// CheckAllUsed returns an error listing the keys left in params.
func CheckAllUsed(params Params) error {
	if len(params) == 0 {
		return nil
	}
	var keys []string
	for key := range generics.SortedKeys(params) {
		keys = append(keys, key)
	}
	return errors.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
}
