package multiassetengine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/simpleexpr/internal/logger"
	"github.com/liamcoop/simpleexpr/rules"
)

const (
	maxAssetNameLength  = 255
	maxIdentifierLength = 100
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateSpec checks one trigger before it is compiled and returns the
// datapoints usable as variables. Unsupported datapoint types are skipped;
// a missing list, or one with no usable entry, is an error.
func ValidateSpec(spec TriggerSpec) ([]rules.Datapoint, error) {
	if err := validateAssetName(spec.Asset); err != nil {
		return nil, err
	}

	if !spec.Declared {
		return nil, fmt.Errorf("%w: datapoints not declared", ErrNoValidDatapoints)
	}

	seen := make(map[string]bool, len(spec.Datapoints))
	valid := make([]rules.Datapoint, 0, len(spec.Datapoints))
	for _, dp := range spec.Datapoints {
		if err := validateIdentifier(dp.Name); err != nil {
			return nil, fmt.Errorf("invalid datapoint name %q: %w", dp.Name, err)
		}
		if seen[dp.Name] {
			return nil, fmt.Errorf("datapoint %q is declared more than once", dp.Name)
		}
		seen[dp.Name] = true

		if !dp.Type.Valid() {
			logger.Info("cannot handle datapoint, skipping", "asset", spec.Asset, "datapoint", dp.Name, "type", dp.Type)
			continue
		}
		valid = append(valid, dp)
	}

	if len(valid) == 0 {
		return nil, ErrNoValidDatapoints
	}
	if len(valid) > rules.MaxVariables {
		logger.Warn("too many datapoints for one expression", "asset", spec.Asset, "declared", len(valid), "max", rules.MaxVariables)
	}
	return valid, nil
}

// validateAssetName accepts any non-blank name without surrounding whitespace
func validateAssetName(name string) error {
	if name == "" {
		return ErrMissingAsset
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("asset name %q has leading/trailing whitespace", name)
	}
	if len(name) > maxAssetNameLength {
		return fmt.Errorf("asset name length %d exceeds maximum of %d characters", len(name), maxAssetNameLength)
	}
	return nil
}

// validateIdentifier validates a datapoint name used as an expression variable
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLength)
	}

	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}

	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	if rules.IsReservedName(name) {
		return fmt.Errorf("%q is a predefined constant or function", name)
	}

	return nil
}

// isReservedKeyword checks if a name is an expression-language keyword
func isReservedKeyword(name string) bool {
	reservedKeywords := map[string]bool{
		// Boolean and null literals
		"true":  true,
		"false": true,
		"null":  true,
		// Control flow
		"if":       true,
		"else":     true,
		"for":      true,
		"while":    true,
		"break":    true,
		"continue": true,
		"return":   true,
		// Declarations
		"var":      true,
		"let":      true,
		"const":    true,
		"function": true,
		// Word operators
		"and": true,
		"or":  true,
		"not": true,
		// Other keywords
		"in":        true,
		"as":        true,
		"import":    true,
		"package":   true,
		"namespace": true,
		"loop":      true,
		"void":      true,
	}

	return reservedKeywords[name]
}
