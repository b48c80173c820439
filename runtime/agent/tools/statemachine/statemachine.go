// Package statemachine gates tool availability on a finite state machine.
// Tools register against the states in which they may run; calling a tool
// outside its states returns a structured error without changing state, and
// a successful call fires the tool's declared transition, if any. Advertised
// descriptions tell the model which states a tool serves and where it leads.
//
// A machine tracks the current state for one loop invocation; construct a
// fresh machine per run.
package statemachine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/strandworks/strand/runtime/agent/tools"
)

type (
	// Machine scopes tools to states of type S and tracks the current state.
	// State reads and transitions are serialized; the tool loop dispatches
	// sequentially so contention is rare.
	Machine[S comparable] struct {
		mu      sync.Mutex
		current S
		order   []string
		entries map[string]*entry[S]
	}

	entry[S comparable] struct {
		tool        tools.Tool
		global      bool
		states      []S
		inState     map[S]bool
		transitions map[S]S
	}
)

// New constructs a machine starting in the given state.
func New[S comparable](initial S) *Machine[S] {
	return &Machine[S]{
		current: initial,
		entries: make(map[string]*entry[S]),
	}
}

// Add registers a tool for the given states. Calling Add again for the same
// tool name extends its state set.
func (m *Machine[S]) Add(t tools.Tool, states ...S) *Machine[S] {
	e := m.entry(t)
	for _, s := range states {
		if !e.inState[s] {
			e.inState[s] = true
			e.states = append(e.states, s)
		}
	}
	return m
}

// AddGlobal registers a tool available in every state.
func (m *Machine[S]) AddGlobal(t tools.Tool) *Machine[S] {
	m.entry(t).global = true
	return m
}

// TransitionOn declares that a successful call of the named tool while in
// state from moves the machine to state to.
func (m *Machine[S]) TransitionOn(toolName string, from, to S) *Machine[S] {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[toolName]
	if !ok {
		panic(fmt.Sprintf("statemachine: transition declared for unregistered tool %q", toolName))
	}
	e.transitions[from] = to
	return m
}

// Current returns the machine's current state.
func (m *Machine[S]) Current() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Tools returns the state-gated tools in registration order. Descriptions
// are augmented with availability and transition notes for the model.
func (m *Machine[S]) Tools() []tools.Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tools.Tool, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.gated(m.entries[name]))
	}
	return out
}

func (m *Machine[S]) entry(t tools.Tool) *entry[S] {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := t.Name()
	e, ok := m.entries[name]
	if !ok {
		e = &entry[S]{
			tool:        t,
			inState:     make(map[S]bool),
			transitions: make(map[S]S),
		}
		m.entries[name] = e
		m.order = append(m.order, name)
	}
	return e
}

func (m *Machine[S]) gated(e *entry[S]) tools.Tool {
	t := e.tool
	t.Definition.Description = m.describe(e)
	inner := e.tool.Call
	t.Call = func(ctx context.Context, input json.RawMessage) (tools.Result, error) {
		m.mu.Lock()
		cur := m.current
		allowed := e.global || e.inState[cur]
		m.mu.Unlock()
		if !allowed {
			return tools.Errorf("tool %s not available in state %v; available: %s",
				e.tool.Name(), cur, strings.Join(m.availableIn(cur), ", ")), nil
		}
		res, err := inner(ctx, input)
		if err != nil || res == nil || res.Kind() == tools.ResultKindError {
			return res, err
		}
		m.mu.Lock()
		if to, ok := e.transitions[cur]; ok && m.current == cur {
			m.current = to
		}
		m.mu.Unlock()
		return res, nil
	}
	return t
}

func (m *Machine[S]) describe(e *entry[S]) string {
	desc := e.tool.Definition.Description
	if e.global {
		desc = strings.TrimSpace(desc + " Available in: all states.")
	} else if len(e.states) > 0 {
		names := make([]string, len(e.states))
		for i, s := range e.states {
			names[i] = fmt.Sprintf("%v", s)
		}
		desc = strings.TrimSpace(desc + " Available in: " + strings.Join(names, ", ") + ".")
	}
	if len(e.transitions) > 0 {
		targets := make([]string, 0, len(e.transitions))
		seen := make(map[string]bool)
		for _, from := range e.states {
			if to, ok := e.transitions[from]; ok {
				name := fmt.Sprintf("%v", to)
				if !seen[name] {
					seen[name] = true
					targets = append(targets, name)
				}
			}
		}
		if len(targets) > 0 {
			desc = strings.TrimSpace(desc + " Transitions to: " + strings.Join(targets, ", ") + ".")
		}
	}
	return desc
}

// availableIn lists the tool names callable in the given state, in
// registration order. Callers hold no lock; reads here are of
// registration-time data that does not change during a run.
func (m *Machine[S]) availableIn(s S) []string {
	var out []string
	for _, name := range m.order {
		e := m.entries[name]
		if e.global || e.inState[s] {
			out = append(out, name)
		}
	}
	return out
}
