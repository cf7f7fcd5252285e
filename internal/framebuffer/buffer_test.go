package framebuffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deflagg/eva/pkg/eva"
)

func TestAddAssignsIncreasingSeq(t *testing.T) {
	b := New()
	f1 := b.Add(eva.Frame{FrameID: "a"})
	f2 := b.Add(eva.Frame{FrameID: "b"})
	assert.Equal(t, uint64(1), f1.Seq)
	assert.Equal(t, uint64(2), f2.Seq)
}

func TestCollectPreReturnsOldestFirstWithinWindow(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		b.Add(eva.Frame{FrameID: "f"})
	}
	trigger := b.Add(eva.Frame{FrameID: "trigger"})

	pre := b.CollectPre(trigger.Seq, 2)
	require.Len(t, pre, 2)
	assert.Equal(t, uint64(4), pre[0].Seq)
	assert.Equal(t, uint64(5), pre[1].Seq)
}

func TestCollectPostReturnsUpToK(t *testing.T) {
	b := New()
	trigger := b.Add(eva.Frame{FrameID: "trigger"})
	b.Add(eva.Frame{FrameID: "p1"})
	b.Add(eva.Frame{FrameID: "p2"})
	b.Add(eva.Frame{FrameID: "p3"})

	post := b.CollectPost(trigger.Seq, 2)
	require.Len(t, post, 2)
	assert.Equal(t, "p1", post[0].FrameID)
	assert.Equal(t, "p2", post[1].FrameID)
}

func TestEvictsOldestOnOverflow(t *testing.T) {
	b := New()
	for i := 0; i < Capacity+10; i++ {
		b.Add(eva.Frame{FrameID: "f"})
	}
	pre := b.CollectPre(uint64(Capacity+11), Capacity)
	assert.Len(t, pre, Capacity)
	assert.Equal(t, uint64(11), pre[0].Seq)
}

func TestAwaitPostWakesOnArrival(t *testing.T) {
	b := New()
	trigger := b.Add(eva.Frame{FrameID: "trigger"})

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Add(eva.Frame{FrameID: "post1"})
	}()

	post := b.AwaitPost(context.Background(), trigger.Seq, 1, time.Second)
	require.Len(t, post, 1)
	assert.Equal(t, "post1", post[0].FrameID)
}

func TestAwaitPostTimesOutWithPartial(t *testing.T) {
	b := New()
	trigger := b.Add(eva.Frame{FrameID: "trigger"})
	b.Add(eva.Frame{FrameID: "post1"})

	start := time.Now()
	post := b.AwaitPost(context.Background(), trigger.Seq, 3, 20*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.Len(t, post, 1)
}
