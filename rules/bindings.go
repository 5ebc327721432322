package rules

import (
	"fmt"

	"github.com/google/cel-go/interpreter"

	"github.com/liamcoop/simpleexpr/internal/logger"
	"github.com/liamcoop/simpleexpr/internal/metrics"
)

// BindingTable is a fixed-capacity set of named float64 slots.
// Slots never move once assigned, and the table doubles as the CEL
// activation, so a compiled program always reads the current slot values.
type BindingTable struct {
	names  [MaxVariables]string
	values [MaxVariables]float64
	index  map[string]int
	count  int
}

// NewBindingTable creates an empty table
func NewBindingTable() *BindingTable {
	return &BindingTable{
		index: make(map[string]int, MaxVariables),
	}
}

// Upsert overwrites the slot for name or appends a new one.
// A full table rejects new names with ErrCapacityExceeded and logs a warning.
func (b *BindingTable) Upsert(name string, value float64) error {
	if i, ok := b.index[name]; ok {
		b.values[i] = value
		return nil
	}

	if b.count == MaxVariables {
		metrics.BindingRejectionsTotal.Inc()
		logger.Warn("binding table full, variable ignored", "variable", name, "capacity", MaxVariables)
		return fmt.Errorf("%w: cannot bind %q (capacity %d)", ErrCapacityExceeded, name, MaxVariables)
	}

	i := b.count
	b.names[i] = name
	b.values[i] = value
	b.index[name] = i
	b.count++
	return nil
}

// Set updates an existing slot only
func (b *BindingTable) Set(name string, value float64) error {
	i, ok := b.index[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	b.values[i] = value
	return nil
}

// Get returns the current value bound to name
func (b *BindingTable) Get(name string) (float64, bool) {
	i, ok := b.index[name]
	if !ok {
		return 0, false
	}
	return b.values[i], true
}

// Has reports whether name occupies a slot
func (b *BindingTable) Has(name string) bool {
	_, ok := b.index[name]
	return ok
}

// Len returns the number of bound variables
func (b *BindingTable) Len() int {
	return b.count
}

// Names returns bound names in insertion order
func (b *BindingTable) Names() []string {
	out := make([]string, b.count)
	copy(out, b.names[:b.count])
	return out
}

// ResolveName implements interpreter.Activation
func (b *BindingTable) ResolveName(name string) (any, bool) {
	i, ok := b.index[name]
	if !ok {
		return nil, false
	}
	return b.values[i], true
}

// Parent implements interpreter.Activation
func (b *BindingTable) Parent() interpreter.Activation {
	return nil
}

var _ interpreter.Activation = (*BindingTable)(nil)
