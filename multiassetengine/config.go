package multiassetengine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/simpleexpr/rules"
)

var (
	// ErrMissingAsset is returned when a trigger has no asset name
	ErrMissingAsset = errors.New("asset name is required")

	// ErrMissingExpression is returned when a trigger has no expression
	ErrMissingExpression = errors.New("expression is required")

	// ErrNoValidDatapoints is returned when no datapoint list is declared or it holds no integer or float entry
	ErrNoValidDatapoints = errors.New("no valid datapoint in rule configuration")

	// ErrMalformedConfig is returned when the configuration document cannot be parsed
	ErrMalformedConfig = errors.New("malformed rule configuration")
)

// ConfigError reports why one asset's trigger could not be built
type ConfigError struct {
	Asset      string
	Expression string
	Err        error
}

func (e *ConfigError) Error() string {
	if e.Asset == "" {
		return fmt.Sprintf("invalid rule configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid trigger for asset %s (expression %q): %v", e.Asset, e.Expression, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// EmbeddedJSON holds the rule_config value, which hosts send either as a
// JSON document encoded in a string or as a plain object
type EmbeddedJSON string

// UnmarshalJSON accepts a string or any JSON value
func (e *EmbeddedJSON) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*e = EmbeddedJSON(s)
		return nil
	}
	if string(trimmed) == "null" {
		*e = ""
		return nil
	}
	*e = EmbeddedJSON(trimmed)
	return nil
}

// UnmarshalYAML accepts a scalar string or a mapping
func (e *EmbeddedJSON) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*e = EmbeddedJSON(value.Value)
		return nil
	}
	var v any
	if err := value.Decode(&v); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rule_config is not representable as JSON: %w", err)
	}
	*e = EmbeddedJSON(data)
	return nil
}

// TriggerConfig is one additional asset/expression pair
type TriggerConfig struct {
	Asset      string            `json:"asset" yaml:"asset"`
	Expression string            `json:"expression" yaml:"expression"`
	Datapoints []rules.Datapoint `json:"datapoints,omitempty" yaml:"datapoints,omitempty"`
}

// Config is the rule configuration supplied by the host
type Config struct {
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Asset       string            `json:"asset,omitempty" yaml:"asset,omitempty"`
	Expression  string            `json:"expression,omitempty" yaml:"expression,omitempty"`
	Datapoints  []rules.Datapoint `json:"datapoints,omitempty" yaml:"datapoints,omitempty"`
	RuleConfig  EmbeddedJSON      `json:"rule_config,omitempty" yaml:"rule_config,omitempty"`
	Triggers    []TriggerConfig   `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	TruthPolicy string            `json:"truth_policy,omitempty" yaml:"truth_policy,omitempty"`
}

// ruleConfigDocument is the layout of the embedded rule_config document
type ruleConfigDocument struct {
	Asset struct {
		Name string `json:"name"`
	} `json:"asset"`
	Datapoints []rules.Datapoint `json:"datapoints"`
	Expression struct {
		Value string `json:"value"`
	} `json:"expression"`
}

// TriggerSpec is a resolved, not yet compiled trigger
type TriggerSpec struct {
	Asset      string
	Expression string
	Datapoints []rules.Datapoint
	// Declared is true when a datapoint list was supplied, even an empty one
	Declared bool
}

const (
	defaultAsset      = "modbus"
	defaultExpression = "if( ((humidity > 50)), 1, 0)"
)

// DefaultConfig returns the configuration a freshly installed rule starts with
func DefaultConfig() *Config {
	doc := map[string]any{
		"asset": map[string]string{
			"description": "The asset name for which notifications will be generated.",
			"name":        defaultAsset,
		},
		"datapoints": []rules.Datapoint{
			{Name: "humidity", Type: rules.DatapointFloat},
			{Name: "temperature", Type: rules.DatapointFloat},
		},
		"expression": map[string]string{
			"description": "The expression to evaluate",
			"name":        "Expression",
			"type":        "string",
			"value":       defaultExpression,
		},
	}
	ruleConfig, _ := json.Marshal(doc)

	return &Config{
		Description: "Generate a notification if all configured assets trigger",
		Asset:       defaultAsset,
		Expression:  defaultExpression,
		RuleConfig:  EmbeddedJSON(ruleConfig),
	}
}

// ParseConfig decodes a JSON or YAML configuration document
func ParseConfig(data []byte) (*Config, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedConfig)
	}

	var cfg Config
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
		}
		return &cfg, nil
	}

	if err := yaml.Unmarshal(trimmed, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	return &cfg, nil
}

// Specs resolves the configuration into one TriggerSpec per asset.
// Top-level asset/expression/datapoints win over the values embedded in
// rule_config, and entries under triggers are appended after them.
func (c *Config) Specs() ([]TriggerSpec, error) {
	primary := TriggerSpec{
		Asset:      strings.TrimSpace(c.Asset),
		Expression: strings.TrimSpace(c.Expression),
		Datapoints: c.Datapoints,
		Declared:   c.Datapoints != nil,
	}

	if c.RuleConfig != "" {
		var doc ruleConfigDocument
		if err := json.Unmarshal([]byte(c.RuleConfig), &doc); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("%w: rule_config: %v", ErrMalformedConfig, err)}
		}
		if primary.Asset == "" {
			primary.Asset = strings.TrimSpace(doc.Asset.Name)
		}
		if primary.Expression == "" {
			primary.Expression = strings.TrimSpace(doc.Expression.Value)
		}
		if !primary.Declared && doc.Datapoints != nil {
			primary.Datapoints = doc.Datapoints
			primary.Declared = true
		}
	}

	var specs []TriggerSpec
	if primary.Asset != "" || primary.Expression != "" || len(c.Triggers) == 0 {
		specs = append(specs, primary)
	}
	for _, t := range c.Triggers {
		specs = append(specs, TriggerSpec{
			Asset:      strings.TrimSpace(t.Asset),
			Expression: strings.TrimSpace(t.Expression),
			Datapoints: t.Datapoints,
			Declared:   t.Datapoints != nil,
		})
	}

	var errs []error
	for _, s := range specs {
		switch {
		case s.Asset == "":
			errs = append(errs, &ConfigError{Expression: s.Expression, Err: ErrMissingAsset})
		case s.Expression == "":
			errs = append(errs, &ConfigError{Asset: s.Asset, Err: ErrMissingExpression})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return specs, nil
}

// Policy returns the configured truthiness policy
func (c *Config) Policy() (rules.TruthPolicy, error) {
	return rules.ParseTruthPolicy(c.TruthPolicy)
}
