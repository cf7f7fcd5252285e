package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deflagg/eva/pkg/eva"
)

func trackIDPtr(v int64) *int64 { return &v }

func TestNormalizeClampsBoxAndConfidence(t *testing.T) {
	dets := []eva.Detection{
		{Name: "person", Conf: 1.5, Box: eva.Box{X1: -10, Y1: -10, X2: 700, Y2: 500}},
	}
	out := Normalize(640, 480, dets)
	require.Len(t, out, 1)
	assert.Equal(t, 1.0, out[0].Conf)
	assert.Equal(t, eva.Box{X1: 0, Y1: 0, X2: 640, Y2: 480}, out[0].Box)
}

func TestNormalizeDedupesByTrackID(t *testing.T) {
	dets := []eva.Detection{
		{Name: "person", Conf: 0.9, TrackID: trackIDPtr(1)},
		{Name: "person", Conf: 0.5, TrackID: trackIDPtr(1)},
		{Name: "person", Conf: 0.7, TrackID: trackIDPtr(2)},
	}
	out := Normalize(100, 100, dets)
	require.Len(t, out, 2)
	assert.Equal(t, 0.9, out[0].Conf)
}

type fixedRawDetector struct {
	boxes [][]eva.Detection
	call  int
}

func (f *fixedRawDetector) DetectRaw(ctx context.Context, frame eva.Frame) ([]eva.Detection, error) {
	b := f.boxes[f.call]
	f.call++
	return b, nil
}

func TestCentroidTrackerAssignsStableIDs(t *testing.T) {
	raw := &fixedRawDetector{boxes: [][]eva.Detection{
		{{Name: "person", Box: eva.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}}},
		{{Name: "person", Box: eva.Box{X1: 2, Y1: 2, X2: 12, Y2: 12}}},
	}}
	ct := NewCentroidTracker(raw, 20, 5)

	d1, err := ct.Detect(context.Background(), eva.Frame{})
	require.NoError(t, err)
	d2, err := ct.Detect(context.Background(), eva.Frame{})
	require.NoError(t, err)

	require.Len(t, d1, 1)
	require.Len(t, d2, 1)
	assert.Equal(t, *d1[0].TrackID, *d2[0].TrackID)
}

func TestCentroidTrackerAssignsNewIDWhenFar(t *testing.T) {
	raw := &fixedRawDetector{boxes: [][]eva.Detection{
		{{Name: "person", Box: eva.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}}},
		{{Name: "person", Box: eva.Box{X1: 500, Y1: 500, X2: 510, Y2: 510}}},
	}}
	ct := NewCentroidTracker(raw, 20, 5)

	d1, _ := ct.Detect(context.Background(), eva.Frame{})
	d2, _ := ct.Detect(context.Background(), eva.Frame{})

	assert.NotEqual(t, *d1[0].TrackID, *d2[0].TrackID)
}
