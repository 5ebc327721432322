package multiassetengine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/liamcoop/simpleexpr/internal/logger"
	"github.com/liamcoop/simpleexpr/internal/metrics"
	"github.com/liamcoop/simpleexpr/rules"
)

var (
	// ErrMalformedInput is returned when an evaluation payload is not a JSON object
	ErrMalformedInput = errors.New("malformed evaluation input")

	// ErrAssetAbsent marks a registered asset missing from the cycle input
	ErrAssetAbsent = errors.New("asset not present in input")

	// ErrNoNumericDatapoints marks an asset whose input holds no number
	ErrNoNumericDatapoints = errors.New("asset has no numeric datapoints")
)

// Input is one evaluation batch: asset name -> datapoint name -> value
type Input map[string]map[string]any

// ParseInput decodes a JSON evaluation payload. Numbers are kept as
// json.Number; an asset whose value is not an object is kept with no datapoints.
func ParseInput(data []byte) (Input, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedInput)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after payload", ErrMalformedInput)
	}

	input := make(Input, len(raw))
	for asset, v := range raw {
		datapoints, ok := v.(map[string]any)
		if !ok {
			datapoints = map[string]any{}
		}
		input[asset] = datapoints
	}
	return input, nil
}

// NumericValues keeps the numeric datapoints of one asset as float64.
// Floats are taken as-is, integers converted, anything else dropped.
func NumericValues(datapoints map[string]any) map[string]float64 {
	out := make(map[string]float64, len(datapoints))
	for name, v := range datapoints {
		switch n := v.(type) {
		case float64:
			out[name] = n
		case float32:
			out[name] = float64(n)
		case int:
			out[name] = float64(n)
		case int8:
			out[name] = float64(n)
		case int16:
			out[name] = float64(n)
		case int32:
			out[name] = float64(n)
		case int64:
			out[name] = float64(n)
		case uint:
			out[name] = float64(n)
		case uint8:
			out[name] = float64(n)
		case uint16:
			out[name] = float64(n)
		case uint32:
			out[name] = float64(n)
		case uint64:
			out[name] = float64(n)
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				continue
			}
			out[name] = f
		}
	}
	return out
}

// AssetResult is one asset's contribution to a cycle
type AssetResult struct {
	Asset     string
	Triggered bool
	Err       error
}

// evaluateCycle evaluates every registered asset against input and ANDs
// the results. An asset absent from input, without numeric datapoints or
// failing evaluation counts as false. An empty registry yields false.
func evaluateCycle(reg *TriggerRegistry, input Input) (bool, []AssetResult) {
	if reg.Len() == 0 {
		return false, nil
	}

	results := make([]AssetResult, 0, reg.Len())
	aggregate := true

	for _, asset := range reg.order {
		entry := reg.entries[asset]
		res := AssetResult{Asset: asset}

		datapoints, present := input[asset]
		switch {
		case !present:
			res.Err = ErrAssetAbsent
			metrics.AssetFailuresTotal.WithLabelValues("absent").Inc()
			logger.Debug("asset absent from evaluation input", "asset", asset)

		default:
			values := NumericValues(datapoints)
			if len(values) == 0 {
				res.Err = &rules.EvaluationError{Asset: asset, Err: ErrNoNumericDatapoints}
				metrics.AssetFailuresTotal.WithLabelValues("no_datapoints").Inc()
				logger.ErrorEvaluation(asset, res.Err)
				break
			}

			triggered, err := entry.Evaluator.Triggered(values)
			if err != nil {
				var evalErr *rules.EvaluationError
				if errors.As(err, &evalErr) {
					evalErr.Asset = asset
				}
				res.Err = err
				if errors.Is(err, rules.ErrNonFinite) {
					metrics.AssetFailuresTotal.WithLabelValues("non_finite").Inc()
				} else {
					metrics.AssetFailuresTotal.WithLabelValues("eval_error").Inc()
				}
				logger.ErrorEvaluation(asset, err)
				break
			}
			res.Triggered = triggered
		}

		aggregate = aggregate && res.Triggered
		results = append(results, res)
	}

	return aggregate, results
}
