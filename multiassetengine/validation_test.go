package multiassetengine

import (
	"errors"
	"strings"
	"testing"

	"github.com/liamcoop/simpleexpr/rules"
)

func declared(dps ...rules.Datapoint) TriggerSpec {
	return TriggerSpec{Asset: "modbus", Expression: "x > 1", Datapoints: dps, Declared: true}
}

// TestValidateSpec_MissingAsset verifies a trigger must name its asset
func TestValidateSpec_MissingAsset(t *testing.T) {
	_, err := ValidateSpec(TriggerSpec{Expression: "x > 1"})
	if !errors.Is(err, ErrMissingAsset) {
		t.Errorf("Expected ErrMissingAsset, got: %v", err)
	}
}

// TestValidateSpec_AssetWhitespace verifies asset names cannot carry surrounding whitespace
func TestValidateSpec_AssetWhitespace(t *testing.T) {
	_, err := ValidateSpec(TriggerSpec{Asset: " modbus", Expression: "x > 1"})
	if err == nil {
		t.Fatal("Expected error for asset name with leading whitespace, got nil")
	}
	if !strings.Contains(err.Error(), "whitespace") {
		t.Errorf("Expected error message about whitespace, got: %v", err)
	}
}

// TestValidateSpec_AssetTooLong verifies the asset name length limit
func TestValidateSpec_AssetTooLong(t *testing.T) {
	_, err := ValidateSpec(TriggerSpec{Asset: strings.Repeat("a", 256), Expression: "x > 1"})
	if err == nil {
		t.Fatal("Expected error for 256 character asset name, got nil")
	}
	if !strings.Contains(err.Error(), "255") {
		t.Errorf("Expected error message about max 255 characters, got: %v", err)
	}
}

// TestValidateSpec_NoDatapointList verifies a trigger must declare its datapoints
func TestValidateSpec_NoDatapointList(t *testing.T) {
	dps, err := ValidateSpec(TriggerSpec{Asset: "modbus", Expression: "humidity > 50"})
	if !errors.Is(err, ErrNoValidDatapoints) {
		t.Errorf("Expected ErrNoValidDatapoints, got: %v", err)
	}
	if dps != nil {
		t.Errorf("Expected nil datapoints, got: %v", dps)
	}
}

// TestValidateSpec_SkipsUnsupportedTypes verifies only integer and float datapoints become variables
func TestValidateSpec_SkipsUnsupportedTypes(t *testing.T) {
	dps, err := ValidateSpec(declared(
		rules.Datapoint{Name: "humidity", Type: rules.DatapointFloat},
		rules.Datapoint{Name: "label", Type: "string"},
		rules.Datapoint{Name: "count", Type: rules.DatapointInteger},
	))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(dps) != 2 || dps[0].Name != "humidity" || dps[1].Name != "count" {
		t.Errorf("Expected [humidity count], got: %v", dps)
	}
}

// TestValidateSpec_NoValidDatapoints verifies a declared list needs one usable entry
func TestValidateSpec_NoValidDatapoints(t *testing.T) {
	testCases := []struct {
		name string
		spec TriggerSpec
	}{
		{"empty list", declared()},
		{"only strings", declared(rules.Datapoint{Name: "label", Type: "string"})},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateSpec(tc.spec)
			if !errors.Is(err, ErrNoValidDatapoints) {
				t.Errorf("Expected ErrNoValidDatapoints, got: %v", err)
			}
		})
	}
}

// TestValidateSpec_DuplicateDatapoint verifies datapoint names are unique
func TestValidateSpec_DuplicateDatapoint(t *testing.T) {
	_, err := ValidateSpec(declared(
		rules.Datapoint{Name: "humidity", Type: rules.DatapointFloat},
		rules.Datapoint{Name: "humidity", Type: rules.DatapointInteger},
	))
	if err == nil {
		t.Fatal("Expected error for duplicate datapoint, got nil")
	}
	if !strings.Contains(err.Error(), "humidity") {
		t.Errorf("Expected error message to mention 'humidity', got: %v", err)
	}
}

// TestValidateSpec_InvalidIdentifiers verifies datapoint names must be usable as variables
func TestValidateSpec_InvalidIdentifiers(t *testing.T) {
	testCases := []struct {
		name      string
		datapoint string
		wantErr   string
	}{
		{"empty", "", "empty"},
		{"starts with digit", "1st", "pattern"},
		{"contains dash", "air-temp", "pattern"},
		{"contains space", "air temp", "pattern"},
		{"keyword", "if", "reserved keyword"},
		{"word operator", "and", "reserved keyword"},
		{"literal", "true", "reserved keyword"},
		{"constant", "pi", "predefined"},
		{"function", "sqrt", "predefined"},
		{"too long", strings.Repeat("x", 101), "100"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateSpec(declared(rules.Datapoint{Name: tc.datapoint, Type: rules.DatapointFloat}))
			if err == nil {
				t.Fatalf("Expected error for datapoint %q, got nil", tc.datapoint)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

// TestValidateSpec_ValidIdentifiers verifies ordinary datapoint names are accepted
func TestValidateSpec_ValidIdentifiers(t *testing.T) {
	names := []string{"humidity", "_raw", "Temp2", "flow_rate_l_min", strings.Repeat("x", 100)}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			if _, err := ValidateSpec(declared(rules.Datapoint{Name: name, Type: rules.DatapointFloat})); err != nil {
				t.Errorf("Expected %q to be valid, got: %v", name, err)
			}
		})
	}
}
