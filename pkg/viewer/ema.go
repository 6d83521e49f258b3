// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package viewer

import (
	"math"
	"sync/atomic"
)

// emaFilter is an exponentially-weighted moving average used to smooth the
// observed inter-sample period for UI display, without needing a window
// of past samples. Safe for concurrent Filter/Value calls.
type emaFilter struct {
	alpha   float64
	bits    atomic.Uint64
	primed  atomic.Bool
}

func newEMAFilter(alpha float64) *emaFilter {
	return &emaFilter{alpha: alpha}
}

// Filter folds in one new sample and returns the updated average.
func (f *emaFilter) Filter(sample float64) float64 {
	if f.primed.CompareAndSwap(false, true) {
		f.bits.Store(math.Float64bits(sample))
		return sample
	}

	current := math.Float64frombits(f.bits.Load())
	updated := f.alpha*sample + (1-f.alpha)*current
	f.bits.Store(math.Float64bits(updated))
	return updated
}

// Value returns the current average without folding in a new sample.
func (f *emaFilter) Value() float64 {
	return math.Float64frombits(f.bits.Load())
}
