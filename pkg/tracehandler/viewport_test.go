// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tracehandler

import "testing"

func TestViewportDequeAppendsOnePerIncrement(t *testing.T) {
	var d viewportDeque
	d.handle(1.0, 0, 1)
	d.handle(2.0, 0, 3)

	if got := d.size(); got != 3 {
		t.Fatalf("size = %d, want 3 (1 + 2 increments)", got)
	}
}

func TestViewportDequeEvictsOlderThanOldestX(t *testing.T) {
	var d viewportDeque
	d.handle(1.0, 0, 1)
	d.handle(2.0, 0, 2)
	d.handle(3.0, 0, 3)

	d.handle(4.0, 2.5, 3)

	got := d.vector()
	if len(got) != 1 || got[0] != 3.0 {
		t.Errorf("vector = %v, want [3] after evicting entries < 2.5", got)
	}
}

func TestViewportDequeReset(t *testing.T) {
	var d viewportDeque
	d.handle(1.0, 0, 1)
	d.reset()

	if got := d.size(); got != 0 {
		t.Errorf("size after reset = %d, want 0", got)
	}

	d.handle(5.0, 0, 1)
	if got := d.size(); got != 1 {
		t.Errorf("size after reset+handle = %d, want 1 (lastTotal must also reset)", got)
	}
}
