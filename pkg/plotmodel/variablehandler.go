// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package plotmodel

import "sync"

// VariableHandler owns the set of known Variables, keyed by fully-qualified
// name, and preserves insertion order for reproducible iteration (e.g. when
// the symbol resolver walks it to refresh addresses).
type VariableHandler struct {
	mu    sync.RWMutex
	order []string
	byName map[string]*Variable
}

// NewVariableHandler returns an empty handler.
func NewVariableHandler() *VariableHandler {
	return &VariableHandler{byName: make(map[string]*Variable)}
}

// Add registers v, replacing any existing variable of the same name in
// place (preserving its position in iteration order).
func (h *VariableHandler) Add(v *Variable) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byName[v.Name]; !exists {
		h.order = append(h.order, v.Name)
	}
	h.byName[v.Name] = v
}

// Remove deletes the variable by name, if present. Per §3, a variable is
// destroyed only by being removed from its owning collection.
func (h *VariableHandler) Remove(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byName[name]; !exists {
		return
	}
	delete(h.byName, name)
	for i, n := range h.order {
		if n == name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Get implements VariableResolver.
func (h *VariableHandler) Get(name string) (*Variable, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.byName[name]
	return v, ok
}

// Rename moves a variable to a new name while keeping its iteration
// position, mirroring PlotGroupHandler::renamePlotInAllGroups's identity
// semantics for variables.
func (h *VariableHandler) Rename(oldName, newName string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, ok := h.byName[oldName]
	if !ok {
		return false
	}
	v.Name = newName
	delete(h.byName, oldName)
	h.byName[newName] = v
	for i, n := range h.order {
		if n == oldName {
			h.order[i] = newName
			break
		}
	}
	return true
}

// Each calls fn for every variable in insertion order. fn must not mutate
// the handler.
func (h *VariableHandler) Each(fn func(*Variable)) {
	h.mu.RLock()
	vars := make([]*Variable, 0, len(h.order))
	for _, name := range h.order {
		vars = append(vars, h.byName[name])
	}
	h.mu.RUnlock()

	for _, v := range vars {
		fn(v)
	}
}

// Len returns the number of registered variables.
func (h *VariableHandler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}
