// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package tracehandler

import "sync"

// viewportDeque tracks the timestamps of a monotonic error-style counter's
// increments that fall within the currently-retained plot viewport: each
// call to handle appends one timestamp per counter increment observed
// since the previous call, then evicts every timestamp older than the
// viewport's current oldest-retained X (spec.md §4.6, testable property 4).
type viewportDeque struct {
	mu         sync.Mutex
	timestamps []float64
	lastTotal  uint64
}

func (d *viewportDeque) handle(now, oldestX float64, total uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for total > d.lastTotal {
		d.timestamps = append(d.timestamps, now)
		d.lastTotal++
	}

	i := 0
	for i < len(d.timestamps) && d.timestamps[i] < oldestX {
		i++
	}
	d.timestamps = d.timestamps[i:]
}

func (d *viewportDeque) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timestamps)
}

func (d *viewportDeque) vector() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float64, len(d.timestamps))
	copy(out, d.timestamps)
	return out
}

func (d *viewportDeque) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timestamps = nil
	d.lastTotal = 0
}
