// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package trigger generalizes the trace handler's single-channel
// threshold trigger (spec.md §4.6) into an arbitrary boolean expression
// over every channel's current value, compiled once and evaluated per
// sample.
package trigger

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env is the set of variables a trigger expression may reference. Values
// and Analog are both indexed by channel number, e.g.
// `Analog[2] && Values[2] > 0.5 && Values[3] < 1.0`. Analog reports
// whether a channel is an analog (as opposed to digital/boolean) plot;
// spec.md §4.6 requires the triggering channel to be analog, so the
// default Threshold expression gates on it explicitly rather than
// relying on every caller to remember to check.
type Env struct {
	Values         map[int]float64
	Analog         map[int]bool
	ElapsedSamples int
	MaxPoints      int
}

// Evaluator holds one compiled trigger expression.
type Evaluator struct {
	program *vm.Program
	source  string
}

// Compile parses and type-checks expression against Env, failing fast on
// a malformed or non-boolean expression rather than at first evaluation.
func Compile(expression string) (*Evaluator, error) {
	program, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("trigger: compiling %q: %w", expression, err)
	}
	return &Evaluator{program: program, source: expression}, nil
}

// Evaluate runs the compiled expression against env.
func (e *Evaluator) Evaluate(env Env) (bool, error) {
	out, err := expr.Run(e.program, env)
	if err != nil {
		return false, fmt.Errorf("trigger: evaluating %q: %w", e.source, err)
	}
	triggered, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("trigger: expression %q did not evaluate to a bool", e.source)
	}
	return triggered, nil
}

// String returns the original expression source.
func (e *Evaluator) String() string {
	return e.source
}

// Threshold builds the single-channel threshold expression equivalent to
// the core trigger logic in spec.md §4.6: triggerChannel's analog value
// exceeding triggerLevel. The channel must be analog — Analog[channel] is
// checked explicitly so a digital channel's 0/1 DigitalValue can never be
// mistaken for a crossed threshold.
func Threshold(channel int, level float64) string {
	return fmt.Sprintf("Analog[%d] && Values[%d] > %g", channel, channel, level)
}
