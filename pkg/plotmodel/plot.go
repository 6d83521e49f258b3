// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package plotmodel

import (
	"fmt"
	"sync"
)

// Domain distinguishes plots whose values are continuous measurements from
// plots whose values are boolean channels decoded per the 0xAA convention.
type Domain int

const (
	DomainAnalog Domain = iota
	DomainDigital
)

// Series binds one Variable into a Plot together with a per-series
// visibility flag. A Series is not independently owned; it only exists
// inside its Plot's series map.
type Series struct {
	Variable *Variable
	Visible  bool
}

// Plot holds one or more Series sharing a single time axis. XAxis and every
// series' Y sequence are kept the same length and are capped at MaxPoints;
// once the cap is reached, appends drop the oldest sample (FIFO). Series are
// stored in an insertion-ordered map so iteration order is reproducible.
type Plot struct {
	mu sync.Mutex

	Name         string
	Alias        string
	Domain       Domain
	TraceVarType Type
	Visible      bool
	MaxPoints    int

	order  []string
	series map[string]*Series

	XAxis []float64
	Y     map[string][]float64
}

// NewPlot creates an empty plot with the given name and a default
// retention window of maxPoints samples.
func NewPlot(name string, maxPoints int) *Plot {
	return &Plot{
		Name:      name,
		Visible:   true,
		MaxPoints: maxPoints,
		series:    make(map[string]*Series),
		Y:         make(map[string][]float64),
	}
}

// AddSeries binds v into the plot, keyed by its name. Returns the created
// Series.
func (p *Plot) AddSeries(v *Variable) *Series {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &Series{Variable: v, Visible: true}
	if _, exists := p.series[v.Name]; !exists {
		p.order = append(p.order, v.Name)
	}
	p.series[v.Name] = s
	if _, ok := p.Y[v.Name]; !ok {
		p.Y[v.Name] = make([]float64, 0, p.MaxPoints)
	}
	return s
}

// SeriesNames returns series names in insertion order.
func (p *Plot) SeriesNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// SeriesByName returns the named series, if present.
func (p *Plot) SeriesByName(name string) (*Series, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.series[name]
	return s, ok
}

// EachSeries calls fn for every series in insertion order.
func (p *Plot) EachSeries(fn func(name string, s *Series)) {
	p.mu.Lock()
	names := make([]string, len(p.order))
	copy(names, p.order)
	snap := make([]*Series, len(names))
	for i, n := range names {
		snap[i] = p.series[n]
	}
	p.mu.Unlock()

	for i, n := range names {
		fn(n, snap[i])
	}
}

// AddPoint appends y to the named series' Y sequence. Used by handlers that
// compute the value themselves (e.g. the trace handler's domain-specific
// conversion) rather than pulling it from the series' Variable.
func (p *Plot) AddPoint(seriesName string, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.series[seriesName]; !ok {
		return fmt.Errorf("plotmodel: plot %q has no series %q", p.Name, seriesName)
	}
	p.Y[seriesName] = append(p.Y[seriesName], y)
	return nil
}

// UpdateSeries recomputes every series' newest value from its Variable's
// current raw value (via the type-dispatched conversion, including
// fractional-base extraction) and appends it. Used by the viewer handler,
// which samples Variables directly rather than supplying values explicitly.
func (p *Plot) UpdateSeries(resolver VariableResolver) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, name := range p.order {
		s := p.series[name]
		value, ok := s.Variable.FractionalValue(resolver)
		if !ok {
			value = 0
		}
		p.Y[name] = append(p.Y[name], value)
	}
}

// AddTimePoint appends x to the time axis and enforces MaxPoints retention
// across the axis and every series' Y sequence, preserving pairwise
// alignment (invariant 9).
func (p *Plot) AddTimePoint(x float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.XAxis = append(p.XAxis, x)
	p.enforceCapLocked()
}

// SetMaxPoints changes the retention cap, truncating existing data to the
// n most recent samples if the current length exceeds n.
func (p *Plot) SetMaxPoints(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.MaxPoints = n
	p.enforceCapLocked()
}

func (p *Plot) enforceCapLocked() {
	if p.MaxPoints <= 0 || len(p.XAxis) <= p.MaxPoints {
		return
	}
	drop := len(p.XAxis) - p.MaxPoints
	p.XAxis = trimFront(p.XAxis, drop)
	for name, y := range p.Y {
		if len(y) > p.MaxPoints {
			p.Y[name] = trimFront(y, len(y)-p.MaxPoints)
		}
	}
}

func trimFront(s []float64, n int) []float64 {
	if n <= 0 {
		return s
	}
	if n >= len(s) {
		return s[:0]
	}
	copy(s, s[n:])
	return s[:len(s)-n]
}

// GetOldestValue returns the oldest retained timestamp in O(1), or 0 if the
// plot has no data yet.
func (p *Plot) GetOldestValue() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.XAxis) == 0 {
		return 0
	}
	return p.XAxis[0]
}

// Len returns the current number of retained samples.
func (p *Plot) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.XAxis)
}

// Snapshot returns a copy of the time axis and every series' Y values,
// safe to hand to a GUI renderer without holding the plot's lock.
func (p *Plot) Snapshot() (x []float64, y map[string][]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	x = make([]float64, len(p.XAxis))
	copy(x, p.XAxis)

	y = make(map[string][]float64, len(p.Y))
	for name, values := range p.Y {
		cp := make([]float64, len(values))
		copy(cp, values)
		y[name] = cp
	}
	return x, y
}

// GetVisibility returns the plot's own visibility flag (distinct from any
// per-group visibility override tracked by a PlotGroup).
func (p *Plot) GetVisibility() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Visible
}

// SetVisibility sets the plot's own visibility flag.
func (p *Plot) SetVisibility(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Visible = v
}
