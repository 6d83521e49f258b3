// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package plotgroup

import (
	"testing"

	"github.com/mculab/acqd/pkg/plotmodel"
)

func TestHandlerAddGroupIdempotent(t *testing.T) {
	h := NewHandler()
	g1 := h.AddGroup("g1")
	g2 := h.AddGroup("g1")
	if g1 != g2 {
		t.Error("AddGroup twice with the same name should return the same group")
	}
	if h.GroupCount() != 1 {
		t.Errorf("GroupCount() = %d, want 1", h.GroupCount())
	}
}

func TestHandlerRemoveGroupCreatesDefaultWhenEmpty(t *testing.T) {
	h := NewHandler()
	h.AddGroup("only")
	h.RemoveGroup("only")

	if h.GroupCount() != 1 {
		t.Fatalf("GroupCount() after removing the only group = %d, want 1", h.GroupCount())
	}
	if !h.CheckIfGroupExists("new group0") {
		t.Error("removing the last group should create a default \"new group0\"")
	}
}

func TestHandlerGetActiveGroupFallsBackToFirst(t *testing.T) {
	h := NewHandler()
	h.AddGroup("zzz")
	h.AddGroup("aaa")

	active := h.GetActiveGroup()
	if active.Name() != "zzz" {
		t.Errorf("GetActiveGroup().Name() = %q, want %q (first inserted)", active.Name(), "zzz")
	}
}

func TestHandlerGetActiveGroupOnEmptyHandler(t *testing.T) {
	h := NewHandler()
	active := h.GetActiveGroup()
	if active == nil || active.Name() != "new group0" {
		t.Error("GetActiveGroup on an empty handler should auto-create a default group")
	}
}

func TestHandlerRenamePlotInAllGroups(t *testing.T) {
	h := NewHandler()
	g1 := h.AddGroup("g1")
	g2 := h.AddGroup("g2")

	p := plotmodel.NewPlot("temp", 10)
	g1.AddPlot(p, true)
	g2.AddPlot(p, false)

	h.RenamePlotInAllGroups("temp", "temperature")

	if _, err := g1.GetVisibility("temperature"); err != nil {
		t.Error("g1 should have the renamed plot")
	}
	if vis, _ := g2.GetVisibility("temperature"); vis {
		t.Error("g2's visibility for the renamed plot should remain false")
	}
	if _, err := g1.GetVisibility("temp"); err == nil {
		t.Error("g1 should no longer have the plot under its old name")
	}
}

func TestGroupVisibility(t *testing.T) {
	g := NewGroup("g1")
	p1 := plotmodel.NewPlot("p1", 10)
	p2 := plotmodel.NewPlot("p2", 10)
	g.AddPlot(p1, true)
	g.AddPlot(p2, false)

	if g.VisiblePlotCount() != 1 {
		t.Errorf("VisiblePlotCount() = %d, want 1", g.VisiblePlotCount())
	}

	if err := g.SetVisibility("p2", true); err != nil {
		t.Fatalf("SetVisibility: %v", err)
	}
	if g.VisiblePlotCount() != 2 {
		t.Errorf("VisiblePlotCount() after SetVisibility = %d, want 2", g.VisiblePlotCount())
	}
}

func TestHandlerEachInsertionOrder(t *testing.T) {
	h := NewHandler()
	h.AddGroup("charlie")
	h.AddGroup("alpha")
	h.AddGroup("bravo")

	var order []string
	h.Each(func(name string, g *Group) { order = append(order, name) })

	want := []string{"charlie", "alpha", "bravo"}
	for i, w := range want {
		if order[i] != w {
			t.Errorf("Each order[%d] = %q, want %q", i, order[i], w)
		}
	}
}

func TestHandlerRenameGroupPreservesIterationPosition(t *testing.T) {
	h := NewHandler()
	h.AddGroup("charlie")
	h.AddGroup("alpha")
	h.AddGroup("bravo")

	if err := h.RenameGroup("alpha", "zulu"); err != nil {
		t.Fatalf("RenameGroup: %v", err)
	}

	var order []string
	h.Each(func(name string, g *Group) { order = append(order, name) })

	want := []string{"charlie", "zulu", "bravo"}
	for i, w := range want {
		if order[i] != w {
			t.Errorf("Each order[%d] = %q, want %q", i, order[i], w)
		}
	}
}
