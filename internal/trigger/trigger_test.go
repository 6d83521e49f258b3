// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package trigger

import "testing"

// TestThresholdEvaluationMatchesCoreLogic covers S3: triggerChannel=2,
// triggerLevel=0.5; channel-2 sequence 0.1,0.2,0.6 triggers on the third
// sample.
func TestThresholdEvaluationMatchesCoreLogic(t *testing.T) {
	ev, err := Compile(Threshold(2, 0.5))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	sequence := []float64{0.1, 0.2, 0.6}
	triggeredAt := -1
	for i, v := range sequence {
		triggered, err := ev.Evaluate(Env{Values: map[int]float64{2: v}, Analog: map[int]bool{2: true}})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if triggered {
			triggeredAt = i
			break
		}
	}

	if triggeredAt != 2 {
		t.Errorf("triggered at index %d, want 2", triggeredAt)
	}
}

// TestThresholdNeverFiresOnDigitalChannel covers spec.md §4.6: the
// triggering channel must be analog. A digital channel whose resolved
// 0/1 value crosses the configured level must never fire.
func TestThresholdNeverFiresOnDigitalChannel(t *testing.T) {
	ev, err := Compile(Threshold(2, 0.5))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	triggered, err := ev.Evaluate(Env{Values: map[int]float64{2: 1.0}, Analog: map[int]bool{2: false}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if triggered {
		t.Error("Threshold expression fired on a digital channel despite Analog[channel]=false")
	}

	// A nil/absent Analog map must also fail safe rather than panic or
	// default to true.
	triggered, err = ev.Evaluate(Env{Values: map[int]float64{2: 1.0}})
	if err != nil {
		t.Fatalf("Evaluate with nil Analog map: %v", err)
	}
	if triggered {
		t.Error("Threshold expression fired with a nil Analog map, want fail-safe false")
	}
}

func TestCompileInvalidExpression(t *testing.T) {
	if _, err := Compile("Values[ malformed"); err == nil {
		t.Error("Compile with malformed expression should fail")
	}
}

func TestCompileNonBooleanExpression(t *testing.T) {
	if _, err := Compile("Values[0]"); err == nil {
		t.Error("Compile with a non-boolean expression should fail")
	}
}

func TestEvaluateMultiChannelExpression(t *testing.T) {
	ev, err := Compile("Values[0] > 1.0 && Values[1] < 0.5")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	triggered, err := ev.Evaluate(Env{Values: map[int]float64{0: 2.0, 1: 0.1}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !triggered {
		t.Error("expected combined condition to trigger")
	}
}
