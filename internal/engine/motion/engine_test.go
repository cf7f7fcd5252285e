package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deflagg/eva/pkg/eva"
)

func baseConfig() Config {
	return Config{
		HistoryFrames:        5,
		SuddenMotionSpeedPxS: 500,
		StopSpeedPxS:         5,
		StopDurationMs:       300,
		EventCooldownMs:      1000,
	}
}

func TestSuddenMotionEmittedAboveThreshold(t *testing.T) {
	e := New(baseConfig())
	e.Process([]eva.Sample{{TrackID: 1, TsMs: 0, X: 0, Y: 0}})
	events := e.Process([]eva.Sample{{TrackID: 1, TsMs: 100, X: 100, Y: 0}})

	require.Len(t, events, 1)
	assert.Equal(t, "sudden_motion", events[0].Name)
}

func TestSuddenMotionRespectsCooldown(t *testing.T) {
	e := New(baseConfig())
	e.Process([]eva.Sample{{TrackID: 1, TsMs: 0, X: 0, Y: 0}})
	first := e.Process([]eva.Sample{{TrackID: 1, TsMs: 100, X: 100, Y: 0}})
	require.Len(t, first, 1)

	second := e.Process([]eva.Sample{{TrackID: 1, TsMs: 200, X: 200, Y: 0}})
	assert.Empty(t, second)
}

func TestTrackStopEmittedAfterDuration(t *testing.T) {
	e := New(baseConfig())
	e.Process([]eva.Sample{{TrackID: 1, TsMs: 0, X: 0, Y: 0}})
	e.Process([]eva.Sample{{TrackID: 1, TsMs: 100, X: 1, Y: 0}})
	e.Process([]eva.Sample{{TrackID: 1, TsMs: 400, X: 1, Y: 0}})
	events := e.Process([]eva.Sample{{TrackID: 1, TsMs: 700, X: 1, Y: 0}})

	var names []string
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "track_stop")
}

func TestSpeedUndefinedWhenNonPositiveDt(t *testing.T) {
	e := New(baseConfig())
	e.Process([]eva.Sample{{TrackID: 1, TsMs: 100, X: 0, Y: 0}})
	events := e.Process([]eva.Sample{{TrackID: 1, TsMs: 100, X: 500, Y: 0}})
	assert.Empty(t, events)
}
