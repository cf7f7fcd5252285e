// Package abandoned implements C7: a per-object-track person-association
// state machine that detects objects left behind by the person who brought
// them.
package abandoned

import (
	"math"

	"github.com/deflagg/eva/pkg/eva"
)

const trackTTLMs = 30_000

// Config is the C7 configuration surface (abandoned.* keys).
type Config struct {
	ObjectClasses         map[string]bool
	AssociateMaxDistancePx float64
	AssociateMinMs         int64
	AbandonDelayMs         int64
	StationaryMaxMovePx    *float64
	ROI                    *roiRect
	EventCooldownMs        int64
}

// roiRect mirrors the minimal rectangle shape needed here, independent of
// the roi package to avoid a cross-engine dependency for one predicate.
type roiRect struct {
	X1, Y1, X2, Y2 float64
}

func NewROI(x1, y1, x2, y2 float64) *roiRect {
	return &roiRect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func (r *roiRect) contains(x, y float64) bool {
	return x >= r.X1 && x <= r.X2 && y >= r.Y1 && y <= r.Y2
}

type state int

const (
	stateWatching state = iota
	stateCandidate
	stateAssociated
	stateAbandoning
	stateEmitted
)

type objectState struct {
	class             string
	st                state
	candidatePersonID int64
	candidateSinceTs  int64
	hasCandidate      bool
	assocPersonID     int64
	assocSinceTs      int64
	abandonStartedTs  int64
	abandonPersonID   int64
	referenceX, referenceY float64
	lastEventTs       int64
	lastSeenTsMs      int64
}

// Engine holds per-object-track association/abandonment state.
type Engine struct {
	cfg     Config
	objects map[int64]*objectState
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, objects: make(map[int64]*objectState)}
}

// Process evaluates one frame: objects (from the configured classes) and the
// same-frame person samples used to drive the association FSM.
func (e *Engine) Process(objects, persons []eva.Sample) []eva.Event {
	var events []eva.Event

	for _, obj := range objects {
		if !e.cfg.ObjectClasses[obj.Class] {
			continue
		}

		if e.cfg.ROI != nil && !e.cfg.ROI.contains(obj.X, obj.Y) {
			delete(e.objects, obj.TrackID)
			continue
		}

		os, ok := e.objects[obj.TrackID]
		if !ok {
			os = &objectState{class: obj.Class}
			e.objects[obj.TrackID] = os
		}
		os.lastSeenTsMs = obj.TsMs

		personID, distance, found := nearestPerson(obj, persons)
		inRange := found && distance <= e.cfg.AssociateMaxDistancePx

		if inRange {
			e.driveAssociation(os, personID, obj.TsMs)
		} else {
			os.candidatePersonID = 0
			os.candidateSinceTs = 0
			os.hasCandidate = false
			if os.st == stateAssociated {
				os.st = stateAbandoning
				os.abandonStartedTs = obj.TsMs
				os.abandonPersonID = os.assocPersonID
				os.referenceX, os.referenceY = obj.X, obj.Y
			}
		}

		if os.st == stateAbandoning {
			if ev, ok := e.driveAbandoning(os, obj); ok {
				events = append(events, ev)
			}
		}
	}

	e.evictStale(latestTs(objects))
	return events
}

func (e *Engine) driveAssociation(os *objectState, personID int64, tsMs int64) {
	if os.st == stateAssociated && os.assocPersonID == personID {
		return
	}
	if os.hasCandidate && os.candidatePersonID == personID {
		if tsMs-os.candidateSinceTs >= e.cfg.AssociateMinMs {
			os.st = stateAssociated
			os.assocPersonID = personID
			os.assocSinceTs = os.candidateSinceTs
			os.abandonStartedTs = 0
			os.abandonPersonID = 0
			return
		}
		if os.st != stateAssociated {
			os.st = stateCandidate
		}
		return
	}
	os.candidatePersonID = personID
	os.candidateSinceTs = tsMs
	os.hasCandidate = true
	if os.st != stateAssociated {
		os.st = stateCandidate
	}
}

func (e *Engine) driveAbandoning(os *objectState, obj eva.Sample) (eva.Event, bool) {
	if e.cfg.StationaryMaxMovePx != nil {
		moved := math.Hypot(obj.X-os.referenceX, obj.Y-os.referenceY)
		if moved > *e.cfg.StationaryMaxMovePx {
			os.st = stateWatching
			os.abandonStartedTs = 0
			return eva.Event{}, false
		}
	}

	abandonMs := obj.TsMs - os.abandonStartedTs
	if abandonMs >= e.cfg.AbandonDelayMs && e.canEmit(os, obj.TsMs) {
		os.st = stateEmitted
		os.lastEventTs = obj.TsMs
		trackID := obj.TrackID
		personID := os.abandonPersonID
		return eva.Event{
			Name:     "abandoned_object",
			Severity: eva.SeverityHigh,
			TrackID:  &trackID,
			Data: map[string]interface{}{
				"object_track_id": obj.TrackID,
				"object_class":    obj.Class,
				"person_track_id": personID,
				"abandon_ms":      abandonMs,
			},
		}, true
	}
	return eva.Event{}, false
}

func (e *Engine) canEmit(os *objectState, tsMs int64) bool {
	return os.lastEventTs == 0 || tsMs-os.lastEventTs >= e.cfg.EventCooldownMs
}

func nearestPerson(obj eva.Sample, persons []eva.Sample) (int64, float64, bool) {
	found := false
	var bestID int64
	bestDist := math.Inf(1)
	for _, p := range persons {
		if p.TrackID == obj.TrackID {
			continue
		}
		d := math.Hypot(obj.X-p.X, obj.Y-p.Y)
		if d < bestDist {
			bestDist = d
			bestID = p.TrackID
			found = true
		}
	}
	return bestID, bestDist, found
}

func (e *Engine) evictStale(nowMs int64) {
	for id, os := range e.objects {
		if nowMs-os.lastSeenTsMs > trackTTLMs {
			delete(e.objects, id)
		}
	}
}

func latestTs(samples []eva.Sample) int64 {
	var max int64
	for _, s := range samples {
		if s.TsMs > max {
			max = s.TsMs
		}
	}
	return max
}
