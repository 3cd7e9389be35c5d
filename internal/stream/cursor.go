package stream

import (
	"context"
	"fmt"
)

// Cursor is a forward-only reader over the change log. Position advances
// on Ack only: a Next call that is never acked redelivers the same events
// on the following Next. Each partition may be driven by its own
// goroutine; concurrent calls for the same partition are not supported.
type Cursor struct {
	log *Log
	pos []uint64 // next seq to deliver, per partition
}

// Next blocks until at least one event is available for the partition,
// then returns up to max contiguous events starting at the cursor
// position. Returns a *GapError (matching ErrGap) when retention has
// trimmed past the position; the cursor is repositioned to the earliest
// retained event before returning, so the next call proceeds normally.
func (c *Cursor) Next(ctx context.Context, part, max int) ([]Event, error) {
	if part < 0 || part >= len(c.pos) {
		return nil, fmt.Errorf("unknown partition %d", part)
	}
	if max <= 0 {
		max = 1
	}

	for {
		c.log.mu.Lock()
		p := c.log.parts[part]

		if c.pos[part] < p.firstSeq {
			missed := p.firstSeq - c.pos[part]
			c.pos[part] = p.firstSeq
			c.log.mu.Unlock()
			c.log.logger.Warn("consumer fell behind retention",
				"partition", part, "missed", missed)
			return nil, &GapError{Partition: part, Missed: missed}
		}

		if c.pos[part] < p.nextSeq {
			offset := int(c.pos[part] - p.firstSeq)
			n := len(p.events) - offset
			if n > max {
				n = max
			}
			batch := make([]Event, n)
			copy(batch, p.events[offset:offset+n])
			c.log.mu.Unlock()
			return batch, nil
		}

		// Grab the wakeup channel before releasing the lock so an append
		// between unlock and wait cannot be missed.
		ch := c.log.signal.C()
		c.log.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack marks everything up to and including seq as processed for the
// partition. Acking backwards is a no-op.
func (c *Cursor) Ack(part int, seq uint64) {
	if part < 0 || part >= len(c.pos) {
		return
	}
	c.log.mu.Lock()
	if seq+1 > c.pos[part] {
		c.pos[part] = seq + 1
	}
	c.log.mu.Unlock()
}

// Position returns the next sequence the cursor will deliver for the
// partition. Exposed for tests and lag inspection.
func (c *Cursor) Position(part int) uint64 {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	return c.pos[part]
}
