package collision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deflagg/eva/pkg/eva"
)

func TestS3NearCollision(t *testing.T) {
	cfg := Config{
		Pairs:           ParseClassPairs(nil),
		DistancePx:      50,
		ClosingSpeedPxS: 100,
		PairCooldownMs:  1000,
	}
	e := New(cfg)

	evs0 := e.Process([]eva.Sample{
		{TrackID: 1, Class: "person", X: 0, Y: 0, TsMs: 0},
		{TrackID: 2, Class: "person", X: 200, Y: 0, TsMs: 0},
	})
	assert.Empty(t, evs0)

	evs1 := e.Process([]eva.Sample{
		{TrackID: 1, Class: "person", X: 0, Y: 0, TsMs: 100},
		{TrackID: 2, Class: "person", X: 90, Y: 0, TsMs: 100},
	})
	assert.Empty(t, evs1)

	evs2 := e.Process([]eva.Sample{
		{TrackID: 1, Class: "person", X: 0, Y: 0, TsMs: 200},
		{TrackID: 2, Class: "person", X: 40, Y: 0, TsMs: 200},
	})
	require.Len(t, evs2, 1)
	assert.Equal(t, "near_collision", evs2[0].Name)

	evs3 := e.Process([]eva.Sample{
		{TrackID: 1, Class: "person", X: 0, Y: 0, TsMs: 300},
		{TrackID: 2, Class: "person", X: 10, Y: 0, TsMs: 300},
	})
	assert.Empty(t, evs3, "cooldown should suppress re-emission")
}

func TestIneligibleClassPairNeverEmits(t *testing.T) {
	cfg := Config{Pairs: ParseClassPairs(nil), DistancePx: 1000, ClosingSpeedPxS: 0, PairCooldownMs: 0}
	e := New(cfg)

	events := e.Process([]eva.Sample{
		{TrackID: 1, Class: "person", X: 0, Y: 0, TsMs: 0},
		{TrackID: 2, Class: "car", X: 1, Y: 0, TsMs: 0},
	})
	assert.Empty(t, events)
}

func TestSameTrackIDNeverPaired(t *testing.T) {
	cfg := Config{Pairs: ParseClassPairs(nil), DistancePx: 1000, ClosingSpeedPxS: 0, PairCooldownMs: 0}
	e := New(cfg)

	events := e.Process([]eva.Sample{
		{TrackID: 1, Class: "person", X: 0, Y: 0, TsMs: 0},
		{TrackID: 1, Class: "person", X: 1, Y: 0, TsMs: 0},
	})
	assert.Empty(t, events)
}
