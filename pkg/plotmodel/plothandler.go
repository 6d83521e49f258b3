// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package plotmodel

import "sync"

// PlotHandler owns an insertion-ordered collection of Plots, shared by both
// the viewer and trace data handlers. MaxPoints set here propagates to every
// plot currently registered and to any plot added afterwards.
type PlotHandler struct {
	mu        sync.RWMutex
	order     []string
	byName    map[string]*Plot
	maxPoints int
}

// NewPlotHandler returns an empty handler with the given default retention
// window for plots added through AddPlot.
func NewPlotHandler(maxPoints int) *PlotHandler {
	return &PlotHandler{
		byName:    make(map[string]*Plot),
		maxPoints: maxPoints,
	}
}

// AddPlot creates and registers a new plot with the handler's current
// MaxPoints, or returns the existing plot of that name unchanged.
func (h *PlotHandler) AddPlot(name string) *Plot {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, exists := h.byName[name]; exists {
		return p
	}
	p := NewPlot(name, h.maxPoints)
	h.order = append(h.order, name)
	h.byName[name] = p
	return p
}

// RemovePlot deletes a plot by name, if present.
func (h *PlotHandler) RemovePlot(name string) {
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

// Get returns the named plot, if present.
func (h *PlotHandler) Get(name string) (*Plot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.byName[name]
	return p, ok
}

// Each calls fn for every plot in insertion order.
func (h *PlotHandler) Each(fn func(name string, p *Plot)) {
	h.mu.RLock()
	names := make([]string, len(h.order))
	copy(names, h.order)
	plots := make([]*Plot, len(names))
	for i, n := range names {
		plots[i] = h.byName[n]
	}
	h.mu.RUnlock()

	for i, n := range names {
		fn(n, plots[i])
	}
}

// Len returns the number of registered plots.
func (h *PlotHandler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}

// SetMaxPoints updates the default retention window for plots added in the
// future and propagates the new cap to every plot already registered.
func (h *PlotHandler) SetMaxPoints(n int) {
	h.mu.Lock()
	h.maxPoints = n
	plots := make([]*Plot, 0, len(h.order))
	for _, name := range h.order {
		plots = append(plots, h.byName[name])
	}
	h.mu.Unlock()

	for _, p := range plots {
		p.SetMaxPoints(n)
	}
}

// MaxPoints returns the handler's current default retention window.
func (h *PlotHandler) MaxPoints() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxPoints
}
