// Package framebuffer implements C2: a bounded FIFO of recently arrived
// frames with pre/post-trigger window selection for clip assembly.
package framebuffer

import (
	"context"
	"sync"
	"time"

	"github.com/deflagg/eva/pkg/eva"
)

const Capacity = 128

// Buffer is a bounded FIFO of capacity 128, keyed by a monotonically
// increasing sequence number assigned on arrival.
type Buffer struct {
	mu      sync.Mutex
	frames  []eva.Frame
	nextSeq uint64
	arrived chan struct{} // closed and replaced on every Add, to wake waiters
}

func New() *Buffer {
	return &Buffer{
		frames:  make([]eva.Frame, 0, Capacity),
		nextSeq: 1,
		arrived: make(chan struct{}),
	}
}

// Add assigns the next seq to f, appends it, evicting the oldest frame if
// the buffer is at capacity, and wakes any goroutine waiting in AwaitPost.
func (b *Buffer) Add(f eva.Frame) eva.Frame {
	b.mu.Lock()
	f.Seq = b.nextSeq
	b.nextSeq++
	if len(b.frames) >= Capacity {
		b.frames = append(b.frames[1:], f)
	} else {
		b.frames = append(b.frames, f)
	}
	closed := b.arrived
	b.arrived = make(chan struct{})
	b.mu.Unlock()
	close(closed)
	return f
}

// Latest returns the most recently added frame, if any.
func (b *Buffer) Latest() (eva.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return eva.Frame{}, false
	}
	return b.frames[len(b.frames)-1], true
}

// CollectPre returns up to n entries with seq < triggerSeq, in arrival order.
func (b *Buffer) CollectPre(triggerSeq uint64, n int) []eva.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	var eligible []eva.Frame
	for _, f := range b.frames {
		if f.Seq < triggerSeq {
			eligible = append(eligible, f)
		}
	}
	if len(eligible) > n {
		eligible = eligible[len(eligible)-n:]
	}
	out := make([]eva.Frame, len(eligible))
	copy(out, eligible)
	return out
}

// CollectPost returns up to k entries with seq > triggerSeq, in arrival order.
func (b *Buffer) CollectPost(triggerSeq uint64, k int) []eva.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []eva.Frame
	for _, f := range b.frames {
		if f.Seq > triggerSeq {
			out = append(out, f)
			if len(out) >= k {
				break
			}
		}
	}
	return out
}

// AwaitPost blocks until either k post-trigger frames are available or
// deadline elapses (or ctx is cancelled), whichever comes first, then
// returns whatever is available.
func (b *Buffer) AwaitPost(ctx context.Context, triggerSeq uint64, k int, deadline time.Duration) []eva.Frame {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		if post := b.CollectPost(triggerSeq, k); len(post) >= k {
			return post
		}

		b.mu.Lock()
		wake := b.arrived
		b.mu.Unlock()

		select {
		case <-wake:
			// a new frame arrived; loop and re-check.
		case <-timer.C:
			return b.CollectPost(triggerSeq, k)
		case <-ctx.Done():
			return b.CollectPost(triggerSeq, k)
		}
	}
}
