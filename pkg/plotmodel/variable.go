// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package plotmodel

import (
	"fmt"
	"sync/atomic"
)

// FractionalBase names a bit-field extraction from another variable's raw
// bytes: (rawOf(BaseName) & Mask) >> Shift. It is a weak reference by name,
// not an owning pointer — resolved on demand through a VariableHandler so
// that removing the base variable cannot leave a dangling pointer.
type FractionalBase struct {
	BaseName string
	Mask     uint32
	Shift    uint8
}

// Variable represents one observable target symbol: a fully-qualified name,
// a target address, a primitive type, and the most recently sampled raw
// value. Mutation of the identity fields (Name/Address/Type/...) is only
// safe while acquisition is stopped; RawValue is written continuously by the
// data-handler worker while running and is therefore atomic.
type Variable struct {
	Name       string
	Alias      string
	Address    uint32
	Type       Type
	Size       uint8
	Color      uint32
	Fractional *FractionalBase

	// ShouldUpdateFromElf marks variables the symbol resolver is allowed to
	// touch during updateVariableMap; user-created variables that were never
	// backed by debug info leave this false.
	ShouldUpdateFromElf bool
	isFound             atomic.Bool

	rawValue atomic.Uint32
}

// NewVariable creates a Variable of the given type with Size derived from
// it, satisfying the size==sizeof(type) invariant by construction.
func NewVariable(name string, typ Type) *Variable {
	return &Variable{
		Name: name,
		Type: typ,
		Size: typ.Size(),
	}
}

// Validate checks the size==sizeof(type) invariant (§3).
func (v *Variable) Validate() error {
	if v.Size != v.Type.Size() {
		return fmt.Errorf("plotmodel: variable %q has size %d, want %d for type %s", v.Name, v.Size, v.Type.Size(), v.Type)
	}
	return nil
}

// SetRawValue stores the most recently sampled raw 32-bit word.
func (v *Variable) SetRawValue(raw uint32) {
	v.rawValue.Store(raw)
}

// RawValue returns the most recently stored raw word.
func (v *Variable) RawValue() uint32 {
	return v.rawValue.Load()
}

// TransformToDouble bit-reinterprets the stored raw value per v.Type.
func (v *Variable) TransformToDouble() float64 {
	return RawToDouble(v.Type, v.RawValue())
}

// RawFromDouble packs value into a raw word per v.Type, for writes back to
// the target (ViewerDataHandler.writeSeriesValue).
func (v *Variable) RawFromDouble(value float64) uint32 {
	return DoubleToRaw(v.Type, value)
}

// SetIsFound records whether the symbol resolver last located this
// variable's address/type in the target's debug information.
func (v *Variable) SetIsFound(found bool) {
	v.isFound.Store(found)
}

// IsFound reports the result of the most recent symbol-resolution attempt.
func (v *Variable) IsFound() bool {
	return v.isFound.Load()
}

// VariableResolver looks a variable up by its fully-qualified name. It is
// implemented by VariableHandler and used to resolve FractionalBase
// back-references without Variable holding a strong pointer to its base.
type VariableResolver interface {
	Get(name string) (*Variable, bool)
}

// FractionalValue computes the variable's current value, applying its
// FractionalBase bit-field extraction if one is set. ok is false if a
// fractional base is configured but cannot be resolved through r.
func (v *Variable) FractionalValue(r VariableResolver) (value float64, ok bool) {
	if v.Fractional == nil {
		return v.TransformToDouble(), true
	}

	base, found := r.Get(v.Fractional.BaseName)
	if !found {
		return 0, false
	}

	extracted := (base.RawValue() & v.Fractional.Mask) >> v.Fractional.Shift
	return RawToDouble(v.Type, extracted), true
}
