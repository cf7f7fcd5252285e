// Package tracker implements C3: the detector adapter. It normalizes raw
// detector output (box clamping, confidence clamping, track-ID dedup) and
// provides a deterministic reference tracker for demos and tests.
package tracker

import (
	"context"

	"github.com/deflagg/eva/pkg/eva"
)

// Detector is the black-box detector contract: given a frame, return raw
// detections. Implementations may or may not assign track IDs; Normalize
// handles both cases uniformly.
type Detector interface {
	Detect(ctx context.Context, f eva.Frame) ([]eva.Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, f eva.Frame) ([]eva.Detection, error)

func (fn DetectorFunc) Detect(ctx context.Context, f eva.Frame) ([]eva.Detection, error) {
	return fn(ctx, f)
}

// Normalize clamps boxes to the image, clamps confidence to [0,1], and
// deduplicates by track_id (duplicate track IDs within one frame: keep the
// first occurrence, drop the rest). Detections without a track ID are never
// deduplicated against one another.
func Normalize(width, height int, dets []eva.Detection) []eva.Detection {
	seen := make(map[int64]bool)
	out := make([]eva.Detection, 0, len(dets))

	for _, d := range dets {
		if d.TrackID != nil {
			if seen[*d.TrackID] {
				continue
			}
			seen[*d.TrackID] = true
		}

		d.Conf = clamp(d.Conf, 0, 1)
		d.Box = clampBox(d.Box, width, height)
		out = append(out, d)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampBox(b eva.Box, width, height int) eva.Box {
	b.X1 = clamp(b.X1, 0, float64(width))
	b.X2 = clamp(b.X2, 0, float64(width))
	b.Y1 = clamp(b.Y1, 0, float64(height))
	b.Y2 = clamp(b.Y2, 0, float64(height))
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}
