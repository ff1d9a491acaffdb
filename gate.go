package sourcier

import "context"

// gate is the process-wide browser slot. Exactly one attempt renders at a
// time; everything else queues here. A buffered channel rather than a
// mutex so waiters can give up when their context dies.
type gate struct {
	slot chan struct{}
}

func newGate() *gate {
	return &gate{slot: make(chan struct{}, 1)}
}

func (g *gate) acquire(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) release() {
	<-g.slot
}

// busy reports whether an attempt currently holds the slot. Racy by
// nature; used only for the health payload.
func (g *gate) busy() bool {
	return len(g.slot) > 0
}
