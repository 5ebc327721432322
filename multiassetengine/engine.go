package multiassetengine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/liamcoop/simpleexpr/internal/logger"
	"github.com/liamcoop/simpleexpr/internal/metrics"
	"github.com/liamcoop/simpleexpr/rules"
)

const (
	// RuleName is the name the rule is registered under by hosts
	RuleName = "SimpleExpression"
	// Version of the rule
	Version = "1.0.0"
)

// Engine is the top-level rule: it owns the trigger registry and the rule
// state. Reconfiguration holds the write lock for the whole rebuild and
// swap; evaluation cycles, listings and reasons hold the read lock.
type Engine struct {
	registry *TriggerRegistry
	config   *Config
	state    *rules.RuleState
	programs *rules.InMemoryProgramCache
	now      func() time.Time
	mu       sync.RWMutex
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock used for transition timestamps
func WithClock(now func() time.Time) Option {
	return func(en *Engine) {
		en.now = now
	}
}

// NewEngine creates an engine with no triggers in the CLEARED state
func NewEngine(opts ...Option) *Engine {
	en := &Engine{
		registry: emptyRegistry(),
		programs: rules.NewInMemoryProgramCache(rules.DefaultCacheConfig()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(en)
	}
	en.state = rules.NewRuleState(en.now)
	return en
}

// NewEngineWithConfig creates an engine and applies cfg; it fails when the
// configuration is rejected
func NewEngineWithConfig(cfg *Config, opts ...Option) (*Engine, error) {
	en := NewEngine(opts...)
	if err := en.Configure(cfg); err != nil {
		return nil, err
	}
	return en, nil
}

// Configure replaces every trigger with the ones described by cfg.
// On failure the previous registry stays active.
func (en *Engine) Configure(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Err: fmt.Errorf("%w: configuration is nil", ErrMalformedConfig)}
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	if err := en.replaceAllLocked(cfg); err != nil {
		metrics.ReconfigurationsTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.ReconfigurationsTotal.WithLabelValues("success").Inc()
	return nil
}

func (en *Engine) replaceAllLocked(cfg *Config) error {
	policy, err := cfg.Policy()
	if err != nil {
		return &ConfigError{Err: err}
	}

	specs, err := cfg.Specs()
	if err != nil {
		return err
	}

	reg, err := BuildRegistry(specs, policy, rules.WithProgramCache(en.programs))
	if err != nil {
		en.programs.Retain(en.registry.programKeys())
		return err
	}

	en.registry = reg
	en.config = cfg
	en.programs.Retain(reg.programKeys())
	metrics.RegisteredTriggers.Set(float64(reg.Len()))
	logger.Info("rule configured", "assets", reg.Assets(), "truth_policy", policy.String())
	return nil
}

// Reconfigure parses a new configuration document and applies it.
// Failures are logged and leave the active configuration in place.
func (en *Engine) Reconfigure(data []byte) error {
	cfg, err := ParseConfig(data)
	if err != nil {
		metrics.ReconfigurationsTotal.WithLabelValues("failed").Inc()
		logger.ErrorConfiguration("reconfigure", err)
		return &ConfigError{Err: err}
	}
	if err := en.Configure(cfg); err != nil {
		logger.ErrorConfiguration("reconfigure", err)
		return err
	}
	return nil
}

// Config returns the active configuration, nil before the first success
func (en *Engine) Config() *Config {
	en.mu.RLock()
	defer en.mu.RUnlock()
	return en.config
}

// HasTriggers reports whether any asset is registered
func (en *Engine) HasTriggers() bool {
	en.mu.RLock()
	defer en.mu.RUnlock()
	return en.registry.Len() > 0
}

// TriggerAsset is one element of the trigger listing
type TriggerAsset struct {
	Asset string `json:"asset"`
}

// TriggerList is the externally visible list of registered assets
type TriggerList struct {
	Triggers []TriggerAsset `json:"triggers"`
}

// ListTriggers returns registered assets in configuration order
func (en *Engine) ListTriggers() TriggerList {
	en.mu.RLock()
	defer en.mu.RUnlock()

	list := TriggerList{Triggers: make([]TriggerAsset, 0, en.registry.Len())}
	for _, asset := range en.registry.order {
		list.Triggers = append(list.Triggers, TriggerAsset{Asset: asset})
	}
	return list
}

// TriggersJSON renders ListTriggers
func (en *Engine) TriggersJSON() ([]byte, error) {
	return json.Marshal(en.ListTriggers())
}

// CycleResult describes one evaluation cycle
type CycleResult struct {
	Triggered    bool
	Transitioned bool
	Assets       []AssetResult
	Reason       rules.Reason
}

// EvaluateCycle runs one aggregation cycle and updates the rule state.
// On a transition the reason records every asset when triggered, and the
// assets that did not trigger when cleared.
func (en *Engine) EvaluateCycle(input Input) CycleResult {
	start := time.Now()

	en.mu.RLock()
	defer en.mu.RUnlock()

	triggered, results := evaluateCycle(en.registry, input)

	causes := make([]string, 0, len(results))
	for _, r := range results {
		if triggered || !r.Triggered {
			causes = append(causes, r.Asset)
		}
	}

	transitioned := en.state.SetState(triggered, causes)
	reason := en.state.Reason()

	metrics.EvaluationCyclesTotal.WithLabelValues(fmt.Sprintf("%t", triggered)).Inc()
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	if transitioned {
		metrics.StateTransitionsTotal.WithLabelValues(reason.State.String()).Inc()
		logger.Info("rule state changed", "state", reason.State.String(), "assets", reason.Assets)
	}

	return CycleResult{
		Triggered:    triggered,
		Transitioned: transitioned,
		Assets:       results,
		Reason:       reason,
	}
}

// Evaluate runs one cycle and returns whether the rule triggered
func (en *Engine) Evaluate(input Input) bool {
	return en.EvaluateCycle(input).Triggered
}

// EvaluateJSON parses a JSON payload and evaluates it. A malformed payload
// returns false and leaves the rule state untouched.
func (en *Engine) EvaluateJSON(data []byte) (CycleResult, error) {
	input, err := ParseInput(data)
	if err != nil {
		metrics.EvaluationCyclesTotal.WithLabelValues("malformed").Inc()
		logger.Warn("discarding evaluation payload", "error", err)
		return CycleResult{Reason: en.Reason()}, err
	}
	return en.EvaluateCycle(input), nil
}

// State returns the current rule state
func (en *Engine) State() rules.State {
	en.mu.RLock()
	defer en.mu.RUnlock()
	return en.state.State()
}

// Reason returns the current state, the assets behind the last transition
// and its timestamp
func (en *Engine) Reason() rules.Reason {
	en.mu.RLock()
	defer en.mu.RUnlock()
	return en.state.Reason()
}

// ReasonJSON renders Reason
func (en *Engine) ReasonJSON() ([]byte, error) {
	return json.Marshal(en.Reason())
}

// Info describes the rule and its default configuration
type Info struct {
	Name          string  `json:"name"`
	Version       string  `json:"version"`
	Type          string  `json:"type"`
	DefaultConfig *Config `json:"default_config"`
}

// PluginInfo returns the rule description hosts use for registration
func PluginInfo() Info {
	return Info{
		Name:          RuleName,
		Version:       Version,
		Type:          "notificationRule",
		DefaultConfig: DefaultConfig(),
	}
}
