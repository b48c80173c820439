package model

import (
	"errors"
	"fmt"
	"sync"
)

type (
	// SelectionMode enumerates the supported model selection strategies.
	SelectionMode string

	// Selection captures wire-neutral model selection criteria. Construct
	// values with ByName, ByRole, FallbackByName, Auto, or Default.
	Selection struct {
		// Mode identifies the selection strategy.
		Mode SelectionMode
		// Name is the model name for SelectByName.
		Name string
		// Role is the logical role for SelectByRole, resolved against the
		// registry's role map.
		Role string
		// Fallbacks lists model names for SelectFallback; the first reachable
		// client wins.
		Fallbacks []string
	}

	// Registry maps model names to clients and logical roles to model names.
	// It is populated at startup and must be frozen before use; mutation
	// after Freeze panics. This is the only process-wide mutable state in the
	// runtime and it is read-only post-startup.
	Registry struct {
		mu      sync.RWMutex
		frozen  bool
		clients map[string]Client
		roles   map[string]string
		deflt   string
	}
)

const (
	// SelectByName selects a model by its provider identifier.
	SelectByName SelectionMode = "by_name"
	// SelectByRole selects a model via the role registry.
	SelectByRole SelectionMode = "by_role"
	// SelectFallback tries a list of model names in order.
	SelectFallback SelectionMode = "fallback"
	// SelectAuto delegates selection to the provider.
	SelectAuto SelectionMode = "auto"
	// SelectDefault uses the registry's configured default model.
	SelectDefault SelectionMode = "default"
)

// ByName selects the model with the given provider identifier.
func ByName(name string) Selection {
	return Selection{Mode: SelectByName, Name: name}
}

// ByRole selects the model registered for the given logical role.
func ByRole(role string) Selection {
	return Selection{Mode: SelectByRole, Role: role}
}

// FallbackByName selects the first reachable model from the given names.
func FallbackByName(names ...string) Selection {
	return Selection{Mode: SelectFallback, Fallbacks: names}
}

// Auto delegates model selection to the provider.
func Auto() Selection {
	return Selection{Mode: SelectAuto}
}

// Default selects the platform default model.
func Default() Selection {
	return Selection{Mode: SelectDefault}
}

// NewRegistry constructs an empty model registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]Client),
		roles:   make(map[string]string),
	}
}

// RegisterClient associates a model name with a client. Panics if the
// registry is frozen.
func (r *Registry) RegisterClient(name string, c Client) error {
	if name == "" {
		return errors.New("model: client name is required")
	}
	if c == nil {
		return errors.New("model: client is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("model: registry is frozen")
	}
	if _, dup := r.clients[name]; dup {
		return fmt.Errorf("model: client %q already registered", name)
	}
	r.clients[name] = c
	return nil
}

// MapRole associates a logical role with a registered model name.
func (r *Registry) MapRole(role, name string) error {
	if role == "" || name == "" {
		return errors.New("model: role and model name are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("model: registry is frozen")
	}
	r.roles[role] = name
	return nil
}

// SetDefault names the model used for Default selections.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("model: registry is frozen")
	}
	r.deflt = name
}

// Freeze marks the registry read-only. Call once startup wiring is complete.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Resolve returns the client and model name matching the selection criteria.
func (r *Registry) Resolve(sel Selection) (Client, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch sel.Mode {
	case SelectByName:
		return r.lookup(sel.Name)
	case SelectByRole:
		name, ok := r.roles[sel.Role]
		if !ok {
			return nil, "", fmt.Errorf("model: no model registered for role %q", sel.Role)
		}
		return r.lookup(name)
	case SelectFallback:
		var lastErr error
		for _, name := range sel.Fallbacks {
			c, resolved, err := r.lookup(name)
			if err == nil {
				return c, resolved, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = errors.New("model: fallback list is empty")
		}
		return nil, "", lastErr
	case SelectAuto, SelectDefault, "":
		if r.deflt == "" {
			return nil, "", errors.New("model: no default model configured")
		}
		return r.lookup(r.deflt)
	default:
		return nil, "", fmt.Errorf("model: unknown selection mode %q", sel.Mode)
	}
}

func (r *Registry) lookup(name string) (Client, string, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, "", fmt.Errorf("model: no client registered for model %q", name)
	}
	return c, name, nil
}
