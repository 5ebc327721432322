package rules

import (
	"encoding/json"
	"sync"
	"time"
)

// State is the notification state of a rule
type State int

const (
	StateCleared State = iota
	StateTriggered
)

func (s State) String() string {
	if s == StateTriggered {
		return "triggered"
	}
	return "cleared"
}

// TimestampLayout is the UTC layout used in reason payloads
const TimestampLayout = "2006-01-02 15:04:05.000000+00:00"

// Reason is the rendered view of a RuleState
type Reason struct {
	State     State
	Assets    []string
	Timestamp time.Time
}

// MarshalJSON renders {"reason", "asset", "timestamp"}. A single asset is
// written as a string, several as a list.
func (r Reason) MarshalJSON() ([]byte, error) {
	var asset any = r.Assets
	switch len(r.Assets) {
	case 0:
		asset = []string{}
	case 1:
		asset = r.Assets[0]
	}

	var ts string
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.UTC().Format(TimestampLayout)
	}

	return json.Marshal(struct {
		Reason    string `json:"reason"`
		Asset     any    `json:"asset"`
		Timestamp string `json:"timestamp"`
	}{
		Reason:    r.State.String(),
		Asset:     asset,
		Timestamp: ts,
	})
}

// RuleState is the edge-triggered TRIGGERED/CLEARED state machine.
// It starts CLEARED and every call to SetState fully determines the new state.
type RuleState struct {
	state     State
	assets    []string
	timestamp time.Time
	now       func() time.Time
	mu        sync.RWMutex
}

// NewRuleState creates a state machine in the CLEARED state
func NewRuleState(now func() time.Time) *RuleState {
	if now == nil {
		now = time.Now
	}
	return &RuleState{state: StateCleared, now: now}
}

// SetState applies one cycle's aggregate result.
// assets names the assets that caused the result and is recorded together
// with the UTC timestamp only when the state changes. Returns true on a
// transition.
func (s *RuleState) SetState(triggered bool, assets []string) bool {
	next := StateCleared
	if triggered {
		next = StateTriggered
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if next == s.state && !s.timestamp.IsZero() {
		return false
	}
	changed := next != s.state

	s.state = next
	s.assets = append([]string(nil), assets...)
	s.timestamp = s.now().UTC()
	return changed
}

// State returns the current state
func (s *RuleState) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reason returns the current state, causing assets and last timestamp
func (s *RuleState) Reason() Reason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Reason{
		State:     s.state,
		Assets:    append([]string(nil), s.assets...),
		Timestamp: s.timestamp,
	}
}
