package render

import "fmt"

// UniformPool hands out indices into a fixed ring of per-frame uniform
// slots. A slot stays claimed until the completion signal of the frame that
// wrote it reports done, so the CPU never overwrites a record the GPU may
// still be reading.
type UniformPool struct {
	busy []Signal
	next int
}

// NewUniformPool returns a pool with the given number of slots.
func NewUniformPool(slots int) *UniformPool {
	if slots <= 0 {
		panic(fmt.Sprintf("uniform pool needs at least one slot, got %d", slots))
	}
	return &UniformPool{busy: make([]Signal, slots)}
}

// Len returns the slot count.
func (p *UniformPool) Len() int {
	return len(p.busy)
}

// Acquire returns a free slot index, reclaiming slots whose frames have
// completed along the way. Returns ErrNoFreeSlot when every slot is still
// in flight.
func (p *UniformPool) Acquire() (int, error) {
	for i := 0; i < len(p.busy); i++ {
		slot := (p.next + i) % len(p.busy)
		if p.busy[slot] != nil && !p.busy[slot].Done() {
			continue
		}
		p.busy[slot] = nil
		p.next = (slot + 1) % len(p.busy)
		return slot, nil
	}
	return 0, ErrNoFreeSlot
}

// Bind marks the slot as claimed until s completes.
func (p *UniformPool) Bind(slot int, s Signal) {
	p.busy[slot] = s
}
