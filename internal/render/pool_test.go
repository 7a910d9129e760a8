package render

import (
	"errors"
	"testing"
)

func TestUniformPoolCyclesFreeSlots(t *testing.T) {
	p := NewUniformPool(3)
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		slot, err := p.Acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if seen[slot] {
			t.Fatalf("slot %d handed out twice without being bound", slot)
		}
		seen[slot] = true
	}
}

func TestUniformPoolExhaustion(t *testing.T) {
	p := NewUniformPool(2)
	pending := []*fakeSignal{{}, {}}
	for i := 0; i < 2; i++ {
		slot, err := p.Acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		p.Bind(slot, pending[i])
	}

	if _, err := p.Acquire(); !errors.Is(err, ErrNoFreeSlot) {
		t.Fatalf("expected ErrNoFreeSlot, got %v", err)
	}

	// Completing one in-flight frame frees exactly its slot.
	pending[0].done = true
	slot, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire after completion: %v", err)
	}
	if slot != 0 {
		t.Errorf("expected reclaimed slot 0, got %d", slot)
	}
}

func TestUniformPoolReclaimsCompleted(t *testing.T) {
	p := NewUniformPool(2)
	for frame := 0; frame < 10; frame++ {
		slot, err := p.Acquire()
		if err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
		// Every frame completes immediately, so the pool never runs dry.
		p.Bind(slot, &fakeSignal{done: true})
	}
}

func TestJoinSignals(t *testing.T) {
	a, b := &fakeSignal{}, &fakeSignal{}
	j := Join(a, b)
	if j.Done() {
		t.Error("join of two pending signals reported done")
	}
	a.done = true
	if j.Done() {
		t.Error("join with one pending signal reported done")
	}
	b.done = true
	if !j.Done() {
		t.Error("join of two completed signals not done")
	}

	if !Join(nil, nil).Done() {
		t.Error("join of nil signals should be trivially complete")
	}
	if !Completed().Done() {
		t.Error("Completed() must report done")
	}
}
