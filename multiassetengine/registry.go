package multiassetengine

import (
	"errors"
	"fmt"

	"github.com/liamcoop/simpleexpr/rules"
)

// TriggerEntry associates an asset with the evaluator that assesses it
type TriggerEntry struct {
	Asset     string
	Evaluator *rules.Evaluator
	// Datapoints is the declared schema, nil when variables come from the expression
	Datapoints []rules.Datapoint
}

// TriggerRegistry maps asset names to trigger entries.
// A registry is immutable once built; reconfiguration builds a new one.
type TriggerRegistry struct {
	order   []string
	entries map[string]*TriggerEntry
}

func emptyRegistry() *TriggerRegistry {
	return &TriggerRegistry{entries: map[string]*TriggerEntry{}}
}

// BuildRegistry validates and compiles every spec. Either all entries are
// built or none: the returned error joins one *ConfigError per failing asset.
func BuildRegistry(specs []TriggerSpec, policy rules.TruthPolicy, opts ...rules.EvaluatorOption) (*TriggerRegistry, error) {
	reg := &TriggerRegistry{
		order:   make([]string, 0, len(specs)),
		entries: make(map[string]*TriggerEntry, len(specs)),
	}

	var errs []error
	for _, spec := range specs {
		if _, dup := reg.entries[spec.Asset]; dup {
			errs = append(errs, &ConfigError{
				Asset:      spec.Asset,
				Expression: spec.Expression,
				Err:        fmt.Errorf("asset %s is configured more than once", spec.Asset),
			})
			continue
		}

		datapoints, err := ValidateSpec(spec)
		if err != nil {
			errs = append(errs, &ConfigError{Asset: spec.Asset, Expression: spec.Expression, Err: err})
			continue
		}

		ev, err := rules.NewEvaluator(spec.Expression, datapoints, policy, opts...)
		if err != nil {
			errs = append(errs, &ConfigError{Asset: spec.Asset, Expression: spec.Expression, Err: err})
			continue
		}

		reg.order = append(reg.order, spec.Asset)
		reg.entries[spec.Asset] = &TriggerEntry{
			Asset:      spec.Asset,
			Evaluator:  ev,
			Datapoints: datapoints,
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

// Assets returns registered asset names in configuration order
func (r *TriggerRegistry) Assets() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the entry registered for asset
func (r *TriggerRegistry) Get(asset string) (*TriggerEntry, bool) {
	e, ok := r.entries[asset]
	return e, ok
}

// programKeys returns the cache keys of every registered evaluator
func (r *TriggerRegistry) programKeys() []string {
	keys := make([]string, 0, len(r.order))
	for _, asset := range r.order {
		keys = append(keys, r.entries[asset].Evaluator.CacheKey())
	}
	return keys
}

// Len returns the number of registered assets
func (r *TriggerRegistry) Len() int {
	return len(r.order)
}
