package rules

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name       string
		in         string
		want       string
		wantIdents []string
	}{
		{"integer literal", "humidity > 50", "humidity > 50.0", []string{"humidity"}},
		{"float literal kept", "humidity > 50.5", "humidity > 50.5", []string{"humidity"}},
		{"exponent literal kept", "x < 1e3", "x < 1e3", []string{"x"}},
		{"trailing dot", "x * 2.", "x * 2.0", []string{"x"}},
		{"leading dot", "x * .5", "x * 0.5", []string{"x"}},
		{"if becomes cond", "if( ((humidity > 50)), 1, 0)", "cond( ((humidity > 50.0)), 1.0, 0.0)", []string{"humidity"}},
		{"word operators", "a > 1 and not(b < 2) or c", "a > 1.0 && !(b < 2.0) || c", []string{"a", "b", "c"}},
		{"single equals", "mode = 3", "mode == 3.0", []string{"mode"}},
		{"comparison operators kept", "a <= 1 && b >= 2 && c != 3 && d == 4", "a <= 1.0 && b >= 2.0 && c != 3.0 && d == 4.0", []string{"a", "b", "c", "d"}},
		{"functions are not variables", "max(t1, t2) > clamp(0, t3, 10)", "max(t1, t2) > clamp(0.0, t3, 10.0)", []string{"t1", "t2", "t3"}},
		{"constants are not variables", "sin(angle * pi) > e", "sin(angle * pi) > e", []string{"angle"}},
		{"identifiers with digits", "sensor2 + 3", "sensor2 + 3.0", []string{"sensor2"}},
		{"repeated identifier listed once", "x * x + x", "x * x + x", []string{"x"}},
		{"booleans are literals", "flag == true", "flag == true", []string{"flag"}},
		{"hex left alone", "x > 0x10", "x > 0x10", []string{"x"}},
		{"string copied", `"10" == "10"`, `"10" == "10"`, nil},
		{"surrounding whitespace trimmed", "  x  ", "x", []string{"x"}},
		{"power", "humidity^2 > 100", "pow(humidity, 2.0) > 100.0", []string{"humidity"}},
		{"power is right associative", "x ^ 2 ^ 3", "pow(x, pow(2.0, 3.0))", []string{"x"}},
		{"power of groups and calls", "(a + b)^0.5 + sqrt(c)^2", "pow((a + b), 0.5) + pow(sqrt(c), 2.0)", []string{"a", "b", "c"}},
		{"power with signed exponent", "x^-1", "pow(x, -1.0)", []string{"x"}},
		{"power of exponent literal", "1e-3^x", "pow(1e-3, x)", []string{"x"}},
		{"caret in string untouched", `"a^b" == "a^b"`, `"a^b" == "a^b"`, nil},
		{"modulo kept", "x % 2 == 1", "x % 2.0 == 1.0", []string{"x"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, idents := Normalize(tc.in)
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
			if !reflect.DeepEqual(idents, tc.wantIdents) {
				t.Errorf("Normalize(%q) identifiers = %v, want %v", tc.in, idents, tc.wantIdents)
			}
		})
	}
}
