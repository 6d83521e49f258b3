// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package plotmodel

import "testing"

// TestMaxPointsTruncation covers S1: maxPoints=3; appending (1,10),(2,20),
// (3,30),(4,40) leaves X=[2,3,4], Y=[20,30,40].
func TestMaxPointsTruncation(t *testing.T) {
	p := NewPlot("p1", 3)
	v := NewVariable("var1", TypeU32)
	p.AddSeries(v)

	samples := []struct{ x, y float64 }{
		{1, 10}, {2, 20}, {3, 30}, {4, 40},
	}
	for _, s := range samples {
		if err := p.AddPoint("var1", s.y); err != nil {
			t.Fatalf("AddPoint: %v", err)
		}
		p.AddTimePoint(s.x)
	}

	wantX := []float64{2, 3, 4}
	wantY := []float64{20, 30, 40}

	x, y := p.Snapshot()
	if !floatsEqual(x, wantX) {
		t.Errorf("XAxis = %v, want %v", x, wantX)
	}
	if !floatsEqual(y["var1"], wantY) {
		t.Errorf("Y[var1] = %v, want %v", y["var1"], wantY)
	}
	if got := p.GetOldestValue(); got != 2 {
		t.Errorf("GetOldestValue() = %v, want 2", got)
	}
}

func TestSetMaxPointsTruncatesExisting(t *testing.T) {
	p := NewPlot("p1", 10)
	v := NewVariable("var1", TypeU32)
	p.AddSeries(v)

	for i := 1; i <= 5; i++ {
		p.AddPoint("var1", float64(i*10))
		p.AddTimePoint(float64(i))
	}

	p.SetMaxPoints(2)

	x, y := p.Snapshot()
	if !floatsEqual(x, []float64{4, 5}) {
		t.Errorf("XAxis after SetMaxPoints(2) = %v, want [4 5]", x)
	}
	if !floatsEqual(y["var1"], []float64{40, 50}) {
		t.Errorf("Y[var1] after SetMaxPoints(2) = %v, want [40 50]", y["var1"])
	}
}

func TestUpdateSeriesUsesVariableRawValue(t *testing.T) {
	p := NewPlot("p1", 10)
	handler := NewVariableHandler()

	v := NewVariable("temp", TypeI16)
	v.SetRawValue(0xFFFB) // int16(-5) in the low 16 bits
	handler.Add(v)
	p.AddSeries(v)

	p.UpdateSeries(handler)
	p.AddTimePoint(1)

	_, y := p.Snapshot()
	if len(y["temp"]) != 1 || y["temp"][0] != -5 {
		t.Errorf("Y[temp] = %v, want [-5]", y["temp"])
	}
}

func TestUpdateSeriesFractionalBase(t *testing.T) {
	p := NewPlot("p1", 10)
	handler := NewVariableHandler()

	base := NewVariable("status", TypeU32)
	base.SetRawValue(0x000000F0)
	handler.Add(base)

	frac := NewVariable("status.field", TypeU8)
	frac.Fractional = &FractionalBase{BaseName: "status", Mask: 0x000000F0, Shift: 4}
	handler.Add(frac)
	p.AddSeries(frac)

	p.UpdateSeries(handler)
	p.AddTimePoint(1)

	_, y := p.Snapshot()
	if len(y["status.field"]) != 1 || y["status.field"][0] != 0xF {
		t.Errorf("Y[status.field] = %v, want [15]", y["status.field"])
	}
}

func TestAddPointUnknownSeries(t *testing.T) {
	p := NewPlot("p1", 10)
	if err := p.AddPoint("missing", 1.0); err == nil {
		t.Error("AddPoint on unknown series should return an error")
	}
}

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
