// Package blackboard provides the process-scoped typed container that carries
// data between actions. Values bind under their dynamic type (plus optional
// labels); presence or absence of a binding is what drives planner
// preconditions. Bindings are immutable once made and monotonically additive
// during an action; the blackboard is the only channel for cross-action
// communication.
package blackboard

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

type (
	// Blackboard maps type keys to ordered value lists with last-write
	// timestamps. Writes are serialized; reads take a shared lock. One
	// blackboard exists per agent process and is destroyed with it.
	Blackboard struct {
		mu      sync.RWMutex
		entries map[reflect.Type][]entry
		labels  map[string][]entry
	}

	entry struct {
		value  any
		labels []string
		at     time.Time
	}

	// Binding is a snapshot view of one bound value, used for persistence
	// and inspection.
	Binding struct {
		// TypeName is the fully qualified Go type name of the value.
		TypeName string `json:"type"`
		// Labels lists the labels the value was bound under.
		Labels []string `json:"labels,omitempty"`
		// Value is the JSON rendering of the value.
		Value json.RawMessage `json:"value"`
		// BoundAt is the binding instant.
		BoundAt time.Time `json:"boundAt"`
	}
)

// New constructs an empty blackboard.
func New() *Blackboard {
	return &Blackboard{
		entries: make(map[reflect.Type][]entry),
		labels:  make(map[string][]entry),
	}
}

// AddObject binds a value under its dynamic type. The value must be non-nil.
// Values are treated as immutable once bound; callers must not mutate them
// afterwards.
func (b *Blackboard) AddObject(v any) {
	b.AddObjectWithLabels(v)
}

// AddObjectWithLabels binds a value under its dynamic type and additionally
// under each given label. Labels let planners address supertype-like groups
// without Go type hierarchy.
func (b *Blackboard) AddObjectWithLabels(v any, labels ...string) {
	if v == nil {
		panic("blackboard: value is required")
	}
	e := entry{value: v, labels: labels, at: time.Now()}
	b.mu.Lock()
	defer b.mu.Unlock()
	t := reflect.TypeOf(v)
	b.entries[t] = append(b.entries[t], e)
	for _, l := range labels {
		b.labels[l] = append(b.labels[l], e)
	}
}

// Last returns the most recently bound value assignable to T. The boolean
// reports whether any binding matched.
func Last[T any](b *Blackboard) (T, bool) {
	var zero T
	want := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.RLock()
	defer b.mu.RUnlock()
	var (
		best   any
		bestAt time.Time
		found  bool
	)
	for t, es := range b.entries {
		if !t.AssignableTo(want) {
			continue
		}
		last := es[len(es)-1]
		if !found || last.at.After(bestAt) {
			best, bestAt, found = last.value, last.at, true
		}
	}
	if !found {
		return zero, false
	}
	return best.(T), true
}

// All returns every bound value assignable to T in binding order.
func All[T any](b *Blackboard) []T {
	want := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.RLock()
	defer b.mu.RUnlock()
	var matched []entry
	for t, es := range b.entries {
		if t.AssignableTo(want) {
			matched = append(matched, es...)
		}
	}
	sortEntries(matched)
	out := make([]T, len(matched))
	for i, e := range matched {
		out[i] = e.value.(T)
	}
	return out
}

// LastLabeled returns the most recently bound value under the given label.
func (b *Blackboard) LastLabeled(label string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	es := b.labels[label]
	if len(es) == 0 {
		return nil, false
	}
	return es[len(es)-1].value, true
}

// HasType reports whether any value of the same dynamic type as sample is
// bound. Planner preconditions use this.
func (b *Blackboard) HasType(sample any) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries[reflect.TypeOf(sample)]) > 0
}

// HasLabel reports whether any value is bound under the given label.
func (b *Blackboard) HasLabel(label string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.labels[label]) > 0
}

// Size reports the total number of bindings.
func (b *Blackboard) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n int
	for _, es := range b.entries {
		n += len(es)
	}
	return n
}

// LastWrite returns the most recent binding instant, or the zero time for an
// empty blackboard.
func (b *Blackboard) LastWrite() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var latest time.Time
	for _, es := range b.entries {
		if at := es[len(es)-1].at; at.After(latest) {
			latest = at
		}
	}
	return latest
}

// Snapshot renders every binding for persistence, ordered by binding time.
// Values that cannot be JSON-encoded are skipped with an error.
func (b *Blackboard) Snapshot() ([]Binding, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var all []entry
	for _, es := range b.entries {
		all = append(all, es...)
	}
	sortEntries(all)
	out := make([]Binding, 0, len(all))
	for _, e := range all {
		raw, err := json.Marshal(e.value)
		if err != nil {
			return nil, fmt.Errorf("blackboard: encode %T: %w", e.value, err)
		}
		out = append(out, Binding{
			TypeName: fmt.Sprintf("%T", e.value),
			Labels:   e.labels,
			Value:    raw,
			BoundAt:  e.at,
		})
	}
	return out, nil
}

func sortEntries(es []entry) {
	// Binding timestamps are monotone per process so a stable sort on time
	// preserves intra-type binding order.
	sort.SliceStable(es, func(i, j int) bool { return es[i].at.Before(es[j].at) })
}
