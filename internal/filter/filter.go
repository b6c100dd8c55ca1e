// Package filter narrows instance listings by state and tags.
package filter

import (
	"github.com/yairfalse/nimbus/pkg/resource"
)

// Filter selects instances by lifecycle state and tags.
type Filter struct {
	states      map[resource.State]bool
	includeTags map[string]string
	excludeTags map[string]string
}

// New creates a Filter. An empty states list matches every state.
func New(states []resource.State, includeTags, excludeTags map[string]string) *Filter {
	stateSet := make(map[resource.State]bool, len(states))
	for _, s := range states {
		stateSet[s] = true
	}

	return &Filter{
		states:      stateSet,
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// MatchState returns true if s passes the state filter.
func (f *Filter) MatchState(s resource.State) bool {
	return len(f.states) == 0 || f.states[s]
}

// Match returns true if the instance passes the state and tag filters.
func (f *Filter) Match(in resource.Instance) bool {
	if !f.MatchState(in.State) {
		return false
	}

	// every include tag must match
	for k, v := range f.includeTags {
		if in.Tags == nil || in.Tags[k] != v {
			return false
		}
	}

	// any exclude tag excludes
	for k, v := range f.excludeTags {
		if in.Tags != nil && in.Tags[k] == v {
			return false
		}
	}

	return true
}

// Instances returns only the instances that pass the filter.
func (f *Filter) Instances(instances []resource.Instance) []resource.Instance {
	if f.IsEmpty() {
		return instances
	}

	filtered := make([]resource.Instance, 0, len(instances))
	for _, in := range instances {
		if f.Match(in) {
			filtered = append(filtered, in)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.states) == 0 && len(f.includeTags) == 0 && len(f.excludeTags) == 0
}
