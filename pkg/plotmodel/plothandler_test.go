// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package plotmodel

import "testing"

func TestPlotHandlerAddGetInsertionOrder(t *testing.T) {
	h := NewPlotHandler(100)
	h.AddPlot("c")
	h.AddPlot("a")
	h.AddPlot("b")

	var order []string
	h.Each(func(name string, p *Plot) { order = append(order, name) })

	want := []string{"c", "a", "b"}
	for i, w := range want {
		if order[i] != w {
			t.Errorf("Each order[%d] = %q, want %q", i, order[i], w)
		}
	}
}

func TestPlotHandlerAddPlotIdempotent(t *testing.T) {
	h := NewPlotHandler(100)
	p1 := h.AddPlot("x")
	p2 := h.AddPlot("x")
	if p1 != p2 {
		t.Error("AddPlot called twice with the same name should return the same plot")
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
}

func TestPlotHandlerSetMaxPointsPropagates(t *testing.T) {
	h := NewPlotHandler(10)
	p := h.AddPlot("p1")
	v := NewVariable("v1", TypeU32)
	p.AddSeries(v)

	for i := 1; i <= 5; i++ {
		p.AddPoint("v1", float64(i))
		p.AddTimePoint(float64(i))
	}

	h.SetMaxPoints(2)

	if p.Len() != 2 {
		t.Errorf("p.Len() after handler SetMaxPoints(2) = %d, want 2", p.Len())
	}

	q := h.AddPlot("p2")
	if q.MaxPoints != 2 {
		t.Errorf("new plot's MaxPoints = %d, want 2 (propagated default)", q.MaxPoints)
	}
}

func TestPlotHandlerRemovePlot(t *testing.T) {
	h := NewPlotHandler(10)
	h.AddPlot("a")
	h.AddPlot("b")
	h.RemovePlot("a")

	if _, ok := h.Get("a"); ok {
		t.Error("Get(a) should fail after RemovePlot(a)")
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
}
