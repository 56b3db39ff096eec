// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"errors"
	"testing"
)

// slotDevice is a minimal Device stub for program linking tests. Only the
// program-related methods do anything.
type slotDevice struct {
	Device

	nextProgram ProgramID
	slots       map[string]UniformID
	destroyed   []ProgramID
}

func (d *slotDevice) CreateProgram(vs, fs string) (ProgramID, error) {
	d.nextProgram++
	return d.nextProgram, nil
}

func (d *slotDevice) DestroyProgram(id ProgramID) {
	d.destroyed = append(d.destroyed, id)
}

func (d *slotDevice) UniformSlot(p ProgramID, name string) (UniformID, error) {
	slot, ok := d.slots[name]
	if !ok {
		return InvalidID, errors.New("no such uniform")
	}
	return slot, nil
}

func TestLinkProgramResolvesSlots(t *testing.T) {
	dev := &slotDevice{slots: map[string]UniformID{"uColor": 7, "uMVP": 9}}

	prog, err := LinkProgram(dev, "lines", "vs", "fs", "uColor", "uMVP")
	if err != nil {
		t.Fatalf("LinkProgram: %v", err)
	}
	slot, err := prog.Slot("uColor")
	if err != nil || slot != 7 {
		t.Errorf("Slot(uColor) = %d, %v; want 7, nil", slot, err)
	}
	if got := prog.MustSlot("uMVP"); got != 9 {
		t.Errorf("MustSlot(uMVP) = %d, want 9", got)
	}
}

func TestLinkProgramMissingSlot(t *testing.T) {
	dev := &slotDevice{slots: map[string]UniformID{"uColor": 7}}

	_, err := LinkProgram(dev, "lines", "vs", "fs", "uColor", "uMissing")
	if err == nil {
		t.Fatal("expected error for missing slot")
	}
	// The half-linked program must be torn down.
	if len(dev.destroyed) != 1 {
		t.Errorf("destroyed %d programs, want 1", len(dev.destroyed))
	}
}

func TestProgramSlotNotFound(t *testing.T) {
	dev := &slotDevice{slots: map[string]UniformID{"uColor": 7}}
	prog, err := LinkProgram(dev, "lines", "vs", "fs", "uColor")
	if err != nil {
		t.Fatalf("LinkProgram: %v", err)
	}
	_, err = prog.Slot("uNope")
	if !errors.Is(err, ErrUniformNotFound) {
		t.Errorf("err = %v, want ErrUniformNotFound", err)
	}
}

func TestLinkProgramNilDevice(t *testing.T) {
	_, err := LinkProgram(nil, "x", "vs", "fs")
	if !errors.Is(err, ErrNilDevice) {
		t.Errorf("err = %v, want ErrNilDevice", err)
	}
}
