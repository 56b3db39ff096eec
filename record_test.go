// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package batch

import "testing"

func TestRecordArenaAllocGet(t *testing.T) {
	a := newRecordArena()
	i, rec := a.alloc()
	if i == 0 {
		t.Fatal("alloc returned sentinel index 0")
	}
	rec.Node = 7
	if got := a.get(i); got == nil || got.Node != 7 {
		t.Errorf("get(%d) = %+v", i, got)
	}
	if a.get(0) != nil {
		t.Error("get(0) should return nil")
	}
	if a.live() != 1 {
		t.Errorf("live = %d, want 1", a.live())
	}
}

func TestRecordArenaLastRecord(t *testing.T) {
	a := newRecordArena()
	if _, lr := a.lastRecord(); lr != nil {
		t.Fatal("empty arena has a last record")
	}
	i, rec := a.alloc()
	li, lr := a.lastRecord()
	if li != i || lr != rec {
		t.Errorf("lastRecord = (%d, %p), want (%d, %p)", li, lr, i, rec)
	}
	a.closeLast()
	if _, lr := a.lastRecord(); lr != nil {
		t.Error("closeLast did not end the extension window")
	}
}

func TestRecordArenaRetireReuse(t *testing.T) {
	a := newRecordArena()
	i, rec := a.alloc()
	rec.Count = 99
	a.retire(i)
	if a.live() != 0 {
		t.Errorf("live after retire = %d, want 0", a.live())
	}
	if _, lr := a.lastRecord(); lr != nil {
		t.Error("retired record still extendable")
	}
	j, rec2 := a.alloc()
	if j != i {
		t.Errorf("alloc after retire = %d, want recycled slot %d", j, i)
	}
	if rec2.Count != 0 {
		t.Error("recycled record not zeroed")
	}
}

func TestRecordIndexed(t *testing.T) {
	r := Record{IndexFirst: -1}
	if r.indexed() {
		t.Error("IndexFirst=-1 reported as indexed")
	}
	r.IndexFirst = 0
	if !r.indexed() {
		t.Error("IndexFirst=0 not reported as indexed")
	}
}
