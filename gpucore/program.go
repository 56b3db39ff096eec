// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"errors"
	"fmt"
)

// Program errors.
var (
	// ErrUniformNotFound is returned when a named uniform slot does not
	// exist in a linked program.
	ErrUniformNotFound = errors.New("gpucore: uniform slot not found")

	// ErrNilDevice is returned when linking against a nil device.
	ErrNilDevice = errors.New("gpucore: device is nil")
)

// Program is a linked shader program together with its uniform-slot table.
//
// The table is populated once at link time: every uniform the caller will
// ever set is named up front and resolved to a device handle. Looking up a
// slot after linking is a map read, never a device round-trip.
type Program struct {
	id    ProgramID
	name  string
	slots map[string]UniformID
}

// LinkProgram compiles, links and resolves a program in one step.
// slotNames lists every uniform the program's users will set; a name the
// device cannot resolve fails the link.
func LinkProgram(dev Device, name, vertexSrc, fragmentSrc string, slotNames ...string) (*Program, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	id, err := dev.CreateProgram(vertexSrc, fragmentSrc)
	if err != nil {
		return nil, fmt.Errorf("link %q: %w", name, err)
	}
	slots := make(map[string]UniformID, len(slotNames))
	for _, sn := range slotNames {
		slot, err := dev.UniformSlot(id, sn)
		if err != nil {
			dev.DestroyProgram(id)
			return nil, fmt.Errorf("link %q: slot %q: %w", name, sn, err)
		}
		slots[sn] = slot
	}
	return &Program{id: id, name: name, slots: slots}, nil
}

// ID returns the device program handle.
func (p *Program) ID() ProgramID { return p.id }

// Name returns the program's debug name.
func (p *Program) Name() string { return p.name }

// Slot returns the resolved uniform slot for a name registered at link
// time.
func (p *Program) Slot(name string) (UniformID, error) {
	slot, ok := p.slots[name]
	if !ok {
		return InvalidID, fmt.Errorf("%w: %q in program %q", ErrUniformNotFound, name, p.name)
	}
	return slot, nil
}

// MustSlot is like Slot but panics on a missing name. Use for slot names
// that are compile-time constants.
func (p *Program) MustSlot(name string) UniformID {
	slot, err := p.Slot(name)
	if err != nil {
		panic(err)
	}
	return slot
}

// Destroy releases the device program.
func (p *Program) Destroy(dev Device) {
	if p.id != InvalidID {
		dev.DestroyProgram(p.id)
		p.id = InvalidID
	}
}
