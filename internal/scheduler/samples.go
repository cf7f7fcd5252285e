package scheduler

import "github.com/deflagg/eva/pkg/eva"

// tracksToSamples converts one frame's normalized, tracked detections into
// the point-in-time samples the geometry engines (C4-C7) consume. Only
// detections carrying a track ID participate: the engines key all
// per-entity state by track ID.
func tracksToSamples(tsMs int64, dets []eva.Detection) []eva.Sample {
	samples := make([]eva.Sample, 0, len(dets))
	for _, d := range dets {
		if !d.HasTrack() {
			continue
		}
		x, y := d.Box.Centroid()
		samples = append(samples, eva.Sample{TrackID: *d.TrackID, Class: d.Name, X: x, Y: y, TsMs: tsMs})
	}
	return samples
}

// splitAbandonedInputs partitions samples into the configured object classes
// and the "person" class, the two inputs the abandoned-object engine needs.
func splitAbandonedInputs(samples []eva.Sample, objectClasses map[string]bool) (objects, persons []eva.Sample) {
	for _, s := range samples {
		switch {
		case s.Class == "person":
			persons = append(persons, s)
		case objectClasses[s.Class]:
			objects = append(objects, s)
		}
	}
	return objects, persons
}
