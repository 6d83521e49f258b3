// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package symbols resolves target variable addresses and primitive types
// by driving a GDB subprocess in machine-interface mode and scraping its
// textual responses. The parser is deliberately tolerant: a single
// variable's parse failure never aborts the whole pass.
package symbols

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mculab/acqd/pkg/log"
	"github.com/mculab/acqd/pkg/plotmodel"
)

// minimumAddress is the lowest address callers should treat as a plausible
// SRAM/variable location on the targets this project supports; addresses
// below it (including the 0-fallback used on unparseable address strings)
// read as "not found" downstream.
const minimumAddress = 0x20000000

// miTerminator is the GDB machine-interface mode prompt marker that ends
// every command's output.
const miTerminator = "(gdb)"

// VariableData is one resolved symbol: its address and primitive type.
type VariableData struct {
	Address uint32
	Type    plotmodel.Type
}

// ParsedVariable is one entry of a Parse() result: a variable's name
// together with its resolved address and type.
type ParsedVariable struct {
	Name string
	VariableData
}

// knownPrimitives maps a ptype-reported C type spelling (after stripping
// qualifier prefixes) to its acquisition-engine primitive type. This table
// is part of the external contract (spec.md §6) — it must not grow or
// shrink without updating that contract.
var knownPrimitives = map[string]plotmodel.Type{
	"_Bool":         plotmodel.TypeU8,
	"bool":          plotmodel.TypeU8,
	"unsigned char": plotmodel.TypeU8,

	"char":        plotmodel.TypeI8,
	"signed char": plotmodel.TypeI8,

	"unsigned short":     plotmodel.TypeU16,
	"unsigned short int": plotmodel.TypeU16,
	"short unsigned int": plotmodel.TypeU16,

	"short":              plotmodel.TypeI16,
	"short int":          plotmodel.TypeI16,
	"signed short":       plotmodel.TypeI16,
	"signed short int":   plotmodel.TypeI16,
	"short signed int":   plotmodel.TypeI16,

	"unsigned int":      plotmodel.TypeU32,
	"unsigned long":     plotmodel.TypeU32,
	"unsigned long int": plotmodel.TypeU32,
	"long unsigned int": plotmodel.TypeU32,

	"int":             plotmodel.TypeI32,
	"long":            plotmodel.TypeI32,
	"long int":        plotmodel.TypeI32,
	"signed long":     plotmodel.TypeI32,
	"signed long int": plotmodel.TypeI32,
	"long signed int": plotmodel.TypeI32,

	"float": plotmodel.TypeF32,
}

// Resolver drives one GDB subprocess against one ELF and accumulates the
// variable map it discovers.
type Resolver struct {
	mu      sync.Mutex
	gdbPath string
	proc    *process

	order  []string
	byName map[string]VariableData
}

// NewResolver validates the gdb executable (its `-v` banner must mention
// "GNU"/"gnu") without starting a debug session yet.
func NewResolver(gdbPath string) (*Resolver, error) {
	if err := validateGDB(gdbPath); err != nil {
		return nil, err
	}
	return &Resolver{
		gdbPath: gdbPath,
		byName:  make(map[string]VariableData),
	}, nil
}

func validateGDB(gdbPath string) error {
	p, err := startProcess(gdbPath, "-v")
	if err != nil {
		return fmt.Errorf("symbols: launching %q: %w", gdbPath, err)
	}
	out, _ := p.executeCmd("", "GNU gdb")
	p.close()

	if strings.Contains(out, "GNU") || strings.Contains(out, "gnu") {
		log.Infof("symbols: gdb executable working")
		return nil
	}
	return fmt.Errorf("symbols: gdb executable at %q did not report a GNU banner", gdbPath)
}

// Parse drives a fresh gdb session against elfPath, issuing `info
// variables` and recursively resolving every top-level symbol it reports.
// The previous result is cleared once the gdb session has launched, so
// GetParsedData reflects only the most recent Parse call, including one
// that failed part-way (it then returns what was resolved before the
// failure).
func (r *Resolver) Parse(elfPath string) error {
	if _, err := os.Stat(elfPath); err != nil {
		return fmt.Errorf("symbols: elf not found: %w", err)
	}
	if err := validateGDB(r.gdbPath); err != nil {
		return err
	}

	proc, err := startProcess(r.gdbPath, "--interpreter=mi", elfPath)
	if err != nil {
		return fmt.Errorf("symbols: launching gdb: %w", err)
	}
	defer proc.close()

	r.mu.Lock()
	r.proc = proc
	r.order = nil
	r.byName = make(map[string]VariableData)
	r.mu.Unlock()

	if _, err := proc.executeCmd("", miTerminator); err != nil {
		return fmt.Errorf("symbols: gdb session did not start cleanly: %w", err)
	}

	out, err := proc.executeCmd("info variables\n", miTerminator)
	if err != nil {
		return fmt.Errorf("symbols: info variables: %w", err)
	}

	start := 0
	for len(out) > 0 {
		end := indexFrom(out, "File", start)
		if end < 0 {
			break
		}
		start = indexFrom(out, "~", end)
		if start < 0 {
			break
		}
		start += 2 // skip the tilde and opening quote

		end = indexFrom(out, ":", start)
		if end < 0 {
			break
		}
		// filename itself is not needed beyond delimiting the block

		end1 := indexFrom(out, "~\"\\n", end)
		start = end
		if end1 >= 0 {
			end = end1
			r.parseVariableChunk(out[start:end])
		}
		start = end
	}

	return nil
}

func indexFrom(s, substr string, from int) int {
	if from < 0 || from > len(s) {
		return -1
	}
	i := strings.Index(s[from:], substr)
	if i < 0 {
		return -1
	}
	return i + from
}

// parseVariableChunk tokenizes one "File ...:" block's declaration list by
// ';', taking the token to the left of each ';' as a candidate name.
func (r *Resolver) parseVariableChunk(chunk string) {
	start := 0
	for {
		semi := strings.IndexByte(chunk[start:], ';')
		if semi < 0 {
			return
		}
		semi += start

		space := strings.LastIndexByte(chunk[:semi], ' ')
		if space < 0 {
			return
		}

		name := chunk[space+1 : semi]
		r.checkVariableType(name)
		start = semi + 1
	}
}

// checkVariableType resolves name's address; if it's a known primitive it
// is recorded, otherwise its ptype output is walked as an aggregate member
// list and each member recurses as "<name>.<member>".
func (r *Resolver) checkVariableType(name string) {
	address, found := r.checkAddress(name)
	if !found {
		return
	}

	out, err := r.proc.executeCmd("ptype "+name+"\n", miTerminator)
	if err != nil {
		log.Warnf("symbols: ptype %s: %v", name, err)
		return
	}

	typ, isTrivial := classifyPtype(out)
	if isTrivial {
		if _, exists := r.byName[name]; !exists {
			r.order = append(r.order, name)
		}
		r.byName[name] = VariableData{Address: address, Type: typ}
		return
	}

	subStart := 0
	for {
		semi := strings.IndexByte(out[subStart:], ';')
		if semi < 0 {
			return
		}
		semi += subStart

		if semi > 0 && out[semi-1] == ')' {
			subStart = semi + 1
			continue
		}

		space := strings.LastIndexByte(out[:semi], ' ')
		if space < 0 {
			return
		}

		varName := out[space+1 : semi]
		if varName == "const" || (len(varName) > 0 && varName[0] == '*') {
			subStart = semi + 1
			continue
		}

		fullName := name + "." + varName
		if len(fullName) < 100 {
			r.checkVariableType(fullName)
		}
		subStart = semi + 1
	}
}

// classifyPtype extracts the type line from a `ptype` response and
// classifies it, stripping the qualifier prefixes the debugger may report.
func classifyPtype(out string) (plotmodel.Type, bool) {
	start := strings.Index(out, "=")
	if start < 0 {
		return plotmodel.TypeUnknown, false
	}
	end := strings.Index(out[start:], "\\n")
	if end < 0 {
		return plotmodel.TypeUnknown, false
	}
	end += start

	if start+2 > end {
		return plotmodel.TypeUnknown, false
	}
	line := out[start+2 : end]

	line = strings.TrimPrefix(line, "volatile ")
	line = strings.TrimPrefix(line, "const ")
	line = strings.TrimPrefix(line, "static const ")

	if strings.Contains(line, "enum {") {
		return plotmodel.TypeI32, true
	}

	typ, ok := knownPrimitives[line]
	return typ, ok
}

// checkAddress issues `p /d &name` and extracts the reported address.
// found is false when the command fails or the response lacks the "$"
// value marker, the "=" separator, or a line end after the value — a
// genuine resolution failure. A value that is present but not parseable
// as an unsigned 32-bit integer (negative or overflowing values included)
// is logged and treated as address 0, matching the original
// implementation's stoi-with-caught-exception behavior.
func (r *Resolver) checkAddress(name string) (uint32, bool) {
	out, err := r.proc.executeCmd("p /d &"+name+"\n", miTerminator)
	if err != nil {
		log.Warnf("symbols: p /d &%s: %v", name, err)
		return 0, false
	}

	dollar := strings.IndexByte(out, '$')
	if dollar < 0 {
		return 0, false
	}
	rest := out[dollar+1:]

	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		return 0, false
	}

	eol := strings.Index(rest, "\\n")
	if eol < 0 || eol < eq+2 {
		return 0, false
	}
	address := strings.TrimSpace(rest[eq+2 : eol])

	value, err := strconv.ParseUint(address, 10, 32)
	if err != nil {
		log.Warnf("symbols: address %q for %s did not parse as an integer, using 0", address, name)
		return 0, true
	}
	return uint32(value), true
}

// GetParsedData returns the resolved variables from the most recent Parse
// call, in discovery order.
func (r *Resolver) GetParsedData() []ParsedVariable {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ParsedVariable, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, ParsedVariable{Name: name, VariableData: r.byName[name]})
	}
	return out
}

// UpdateVariableMap refreshes only the already-registered variables in h
// whose ShouldUpdateFromElf is set: each is re-resolved for address and
// leaf type, or marked not-found if either lookup fails.
func (r *Resolver) UpdateVariableMap(elfPath string, h *plotmodel.VariableHandler) error {
	if _, err := os.Stat(elfPath); err != nil {
		return fmt.Errorf("symbols: elf not found: %w", err)
	}
	if err := validateGDB(r.gdbPath); err != nil {
		return err
	}

	proc, err := startProcess(r.gdbPath, "--interpreter=mi", elfPath)
	if err != nil {
		return fmt.Errorf("symbols: launching gdb: %w", err)
	}
	defer proc.close()

	if _, err := proc.executeCmd("", miTerminator); err != nil {
		return fmt.Errorf("symbols: gdb session did not start cleanly: %w", err)
	}

	r.mu.Lock()
	r.proc = proc
	r.mu.Unlock()

	h.Each(func(v *plotmodel.Variable) {
		if !v.ShouldUpdateFromElf {
			return
		}
		v.SetIsFound(false)
		v.Type = plotmodel.TypeUnknown

		address, found := r.checkAddress(v.Name)
		if !found {
			return
		}

		out, err := proc.executeCmd("ptype "+v.Name+"\n", miTerminator)
		if err != nil {
			return
		}
		typ, ok := classifyPtype(out)
		if !ok {
			return
		}

		v.SetIsFound(true)
		v.Address = address
		v.Type = typ
		v.Size = typ.Size()
	})

	return nil
}
