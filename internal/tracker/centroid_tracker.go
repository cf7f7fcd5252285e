package tracker

import (
	"context"
	"math"
	"sync"

	"github.com/deflagg/eva/pkg/eva"
)

// RawDetector produces detections without track IDs; CentroidTracker wraps
// one and assigns IDs via nearest-centroid matching, standing in for a real
// model+tracker pair behind the Detector contract.
type RawDetector interface {
	DetectRaw(ctx context.Context, f eva.Frame) ([]eva.Detection, error)
}

type trackState struct {
	id       int64
	class    string
	x, y     float64
	lastSeen int64
	age      int
}

// CentroidTracker assigns stable track IDs to a stream of class-labeled
// boxes by greedily matching each new detection to the nearest previous
// track of the same class within maxDistance, aging out tracks not matched
// for maxAge consecutive frames.
type CentroidTracker struct {
	raw         RawDetector
	maxDistance float64
	maxAge      int

	mu     sync.Mutex
	tracks []*trackState
	nextID int64
}

func NewCentroidTracker(raw RawDetector, maxDistance float64, maxAge int) *CentroidTracker {
	return &CentroidTracker{
		raw:         raw,
		maxDistance: maxDistance,
		maxAge:      maxAge,
		nextID:      1,
	}
}

func (c *CentroidTracker) Detect(ctx context.Context, f eva.Frame) ([]eva.Detection, error) {
	dets, err := c.raw.DetectRaw(ctx, f)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	matched := make([]bool, len(c.tracks))
	out := make([]eva.Detection, len(dets))

	for i, d := range dets {
		cx, cy := d.Box.Centroid()
		best := -1
		bestDist := math.Inf(1)
		for j, tr := range c.tracks {
			if matched[j] || tr.class != d.Name {
				continue
			}
			dist := math.Hypot(tr.x-cx, tr.y-cy)
			if dist <= c.maxDistance && dist < bestDist {
				best = j
				bestDist = dist
			}
		}

		var id int64
		if best >= 0 {
			matched[best] = true
			c.tracks[best].x, c.tracks[best].y = cx, cy
			c.tracks[best].age = 0
			id = c.tracks[best].id
		} else {
			id = c.nextID
			c.nextID++
			c.tracks = append(c.tracks, &trackState{id: id, class: d.Name, x: cx, y: cy})
			matched = append(matched, true)
		}

		d.TrackID = &id
		out[i] = d
	}

	kept := c.tracks[:0]
	for j, tr := range c.tracks {
		if !matched[j] {
			tr.age++
		}
		if tr.age <= c.maxAge {
			kept = append(kept, tr)
		}
	}
	c.tracks = kept

	return out, nil
}
