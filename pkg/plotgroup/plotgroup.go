// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package plotgroup organizes plots into named, reorderable groups for GUI
// presentation — which plots are shown together and which of them are
// currently visible — independently of how plots are populated with data.
package plotgroup

import (
	"fmt"
	"sync"

	"github.com/mculab/acqd/pkg/plotmodel"
)

// Entry pairs a plot with its visibility within one group. A plot can
// belong to several groups, each with its own independent visibility flag.
type Entry struct {
	Visible bool
	Plot    *plotmodel.Plot
}

// Group is a named, ordered collection of plots shown together in the GUI.
type Group struct {
	mu sync.RWMutex

	name   string
	order  []string
	byName map[string]*Entry
}

// NewGroup returns an empty group with the given name.
func NewGroup(name string) *Group {
	return &Group{name: name, byName: make(map[string]*Entry)}
}

// Name returns the group's current name.
func (g *Group) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}

// SetName renames the group itself (distinct from renaming a plot within
// it).
func (g *Group) SetName(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.name = name
}

// AddPlot adds p to the group under its own name with the given
// visibility. Re-adding a name replaces its entry in place.
func (g *Group) AddPlot(p *plotmodel.Plot, visible bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := p.Name
	if _, exists := g.byName[name]; !exists {
		g.order = append(g.order, name)
	}
	g.byName[name] = &Entry{Visible: visible, Plot: p}
}

// RemovePlot removes a plot from the group by name.
func (g *Group) RemovePlot(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.byName[name]; !exists {
		return
	}
	delete(g.byName, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// SetVisibility sets whether the named plot is shown within this group.
func (g *Group) SetVisibility(name string, visible bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.byName[name]
	if !ok {
		return fmt.Errorf("plotgroup: group %q has no plot %q", g.name, name)
	}
	e.Visible = visible
	return nil
}

// GetVisibility reports whether the named plot is currently shown within
// this group.
func (g *Group) GetVisibility(name string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.byName[name]
	if !ok {
		return false, fmt.Errorf("plotgroup: group %q has no plot %q", g.name, name)
	}
	return e.Visible, nil
}

// RenamePlot moves a plot entry to a new key, preserving its position and
// visibility. Returns false if oldName is not present.
func (g *Group) RenamePlot(oldName, newName string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.byName[oldName]
	if !ok {
		return false
	}
	delete(g.byName, oldName)
	g.byName[newName] = e
	for i, n := range g.order {
		if n == oldName {
			g.order[i] = newName
			break
		}
	}
	return true
}

// Each calls fn for every entry in insertion order.
func (g *Group) Each(fn func(name string, e *Entry)) {
	g.mu.RLock()
	names := make([]string, len(g.order))
	copy(names, g.order)
	entries := make([]*Entry, len(names))
	for i, n := range names {
		entries[i] = g.byName[n]
	}
	g.mu.RUnlock()

	for i, n := range names {
		fn(n, entries[i])
	}
}

// VisiblePlotCount returns the number of entries currently marked visible.
func (g *Group) VisiblePlotCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	count := 0
	for _, e := range g.byName {
		if e.Visible {
			count++
		}
	}
	return count
}

// Len returns the number of plots in the group.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}
