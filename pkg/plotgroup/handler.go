// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package plotgroup

import (
	"fmt"
	"sync"
)

// Handler owns every named Group plus the identity of the one that is
// currently active in the GUI. Groups iterate in insertion order
// (spec.md §4.8), the same order/byName split Group itself uses for its
// plots.
type Handler struct {
	mu          sync.RWMutex
	order       []string
	groups      map[string]*Group
	activeGroup string
}

// NewHandler returns an empty handler. Per spec.md §4.8, a fresh handler
// has no groups until AddGroup is called; GetActiveGroup auto-creates a
// default group the first time it is asked for one.
func NewHandler() *Handler {
	return &Handler{groups: make(map[string]*Group)}
}

// AddGroup creates (or returns, if it already exists) a group with the
// given name.
func (h *Handler) AddGroup(name string) *Group {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addGroupLocked(name)
}

func (h *Handler) addGroupLocked(name string) *Group {
	if g, exists := h.groups[name]; exists {
		return g
	}
	g := NewGroup(name)
	h.groups[name] = g
	h.order = append(h.order, name)
	return g
}

// RenameGroup moves a group to a new key and updates its own name field,
// preserving its position in iteration order.
func (h *Handler) RenameGroup(oldName, newName string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[oldName]
	if !ok {
		return fmt.Errorf("plotgroup: no such group %q", oldName)
	}
	delete(h.groups, oldName)
	g.SetName(newName)
	h.groups[newName] = g
	for i, n := range h.order {
		if n == oldName {
			h.order[i] = newName
			break
		}
	}
	if h.activeGroup == oldName {
		h.activeGroup = newName
	}
	return nil
}

// RemoveGroup deletes a group by name. If this empties the handler, a
// default "new group0" is created so GetActiveGroup always has something
// to return, matching PlotGroupHandler::removeGroup.
func (h *Handler) RemoveGroup(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeGroupLocked(name)
	if len(h.groups) == 0 {
		h.addGroupLocked("new group0")
	}
	h.activeGroup = h.firstNameLocked()
}

func (h *Handler) removeGroupLocked(name string) {
	if _, exists := h.groups[name]; !exists {
		return
	}
	delete(h.groups, name)
	for i, n := range h.order {
		if n == name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// RemoveAllGroups clears the handler entirely, leaving no active group.
func (h *Handler) RemoveAllGroups() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.groups = make(map[string]*Group)
	h.order = nil
	h.activeGroup = ""
}

// RenamePlotInAllGroups propagates a plot rename across every group that
// references it, preserving cross-group identity (a plot renamed once in
// the owning PlotHandler must not go stale in any group's view of it).
func (h *Handler) RenamePlotInAllGroups(oldName, newName string) {
	h.mu.RLock()
	groups := make([]*Group, 0, len(h.groups))
	for _, g := range h.groups {
		groups = append(groups, g)
	}
	h.mu.RUnlock()

	for _, g := range groups {
		g.RenamePlot(oldName, newName)
	}
}

// GroupCount returns the number of groups.
func (h *Handler) GroupCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

// GetGroup returns the named group.
func (h *Handler) GetGroup(name string) (*Group, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g, ok := h.groups[name]
	if !ok {
		return nil, fmt.Errorf("plotgroup: no such group %q", name)
	}
	return g, nil
}

// Each calls fn for every group in insertion order.
func (h *Handler) Each(fn func(name string, g *Group)) {
	h.mu.RLock()
	names := make([]string, len(h.order))
	copy(names, h.order)
	groups := make([]*Group, len(names))
	for i, n := range names {
		groups[i] = h.groups[n]
	}
	h.mu.RUnlock()

	for i, n := range names {
		fn(n, groups[i])
	}
}

// SetActiveGroup marks name as the active group. It need not exist yet;
// GetActiveGroup falls back to the first group if it doesn't.
func (h *Handler) SetActiveGroup(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeGroup = name
}

// GetActiveGroup returns the active group, falling back to the
// first-inserted group (and auto-creating a default group if the
// handler is empty) when the recorded active name no longer exists.
func (h *Handler) GetActiveGroup() *Group {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.groups[h.activeGroup]; !ok {
		if len(h.groups) == 0 {
			h.addGroupLocked("new group0")
		}
		h.activeGroup = h.firstNameLocked()
	}
	return h.groups[h.activeGroup]
}

// CheckIfGroupExists reports whether a group with the given name exists.
func (h *Handler) CheckIfGroupExists(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.groups[name]
	return ok
}

func (h *Handler) firstNameLocked() string {
	if len(h.order) == 0 {
		return ""
	}
	return h.order[0]
}
