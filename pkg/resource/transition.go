package resource

import "time"

// Transition records a state change seen between two consecutive observations.
type Transition struct {
	From    State     `json:"from" yaml:"from"`
	To      State     `json:"to" yaml:"to"`
	Attempt int       `json:"attempt" yaml:"attempt"`
	At      time.Time `json:"at" yaml:"at"`
}

// TransitionLog accumulates state changes for a single handle.
// Repeated observations of the same state are not recorded.
type TransitionLog struct {
	last    State
	entries []Transition
}

// Observe records s if it differs from the previously observed state.
// It returns true when a transition was recorded.
func (l *TransitionLog) Observe(s State, attempt int, at time.Time) bool {
	if l.last == s {
		return false
	}
	l.entries = append(l.entries, Transition{From: l.last, To: s, Attempt: attempt, At: at})
	l.last = s
	return true
}

// Last returns the most recently observed state.
func (l *TransitionLog) Last() State {
	return l.last
}

// Entries returns the recorded transitions in observation order.
func (l *TransitionLog) Entries() []Transition {
	out := make([]Transition, len(l.entries))
	copy(out, l.entries)
	return out
}
