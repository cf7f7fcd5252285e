// Package roi implements C4: per-track region inside/outside state with
// debounced transitions and dwell thresholds, plus virtual line crossings.
package roi

import (
	"github.com/deflagg/eva/pkg/eva"
)

const trackTTLMs = 30_000

type regionState struct {
	committedInside bool
	pendingInside   *bool
	pendingSinceTs  int64
	enterTs         int64
	dwellEmitted    bool
}

type trackState struct {
	regions      map[string]*regionState
	lineSides    map[string]string
	lastSeenTsMs int64
}

// Engine holds per-track ROI/line state across frames for one connection.
type Engine struct {
	cfg    Config
	tracks map[int64]*trackState
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, tracks: make(map[int64]*trackState)}
}

// Process evaluates one frame's samples and returns events in per-sample,
// per-region/per-line insertion order.
func (e *Engine) Process(samples []eva.Sample) []eva.Event {
	if !e.cfg.Enabled {
		return nil
	}

	var events []eva.Event
	for _, s := range samples {
		st, ok := e.tracks[s.TrackID]
		if !ok {
			st = &trackState{regions: make(map[string]*regionState), lineSides: make(map[string]string)}
			e.tracks[s.TrackID] = st
		}
		st.lastSeenTsMs = s.TsMs

		for _, r := range e.cfg.Regions {
			events = append(events, e.processRegion(s, st, r)...)
		}
		for _, l := range e.cfg.Lines {
			if ev, ok := e.processLine(s, st, l); ok {
				events = append(events, ev)
			}
		}
	}

	e.evictStale(latestTs(samples))
	return events
}

func (e *Engine) processRegion(s eva.Sample, st *trackState, r Region) []eva.Event {
	rs, ok := st.regions[r.Name]
	if !ok {
		rs = &regionState{}
		st.regions[r.Name] = rs
	}

	observedInside := r.contains(s.X, s.Y)
	var events []eva.Event

	if e.cfg.TransitionMinMs <= 0 {
		if observedInside != rs.committedInside {
			events = append(events, e.commitTransition(s, rs, r, observedInside)...)
		}
	} else {
		if observedInside == rs.committedInside {
			rs.pendingInside = nil
		} else {
			if rs.pendingInside == nil || *rs.pendingInside != observedInside {
				v := observedInside
				rs.pendingInside = &v
				rs.pendingSinceTs = s.TsMs
			} else if s.TsMs-rs.pendingSinceTs >= e.cfg.TransitionMinMs {
				events = append(events, e.commitTransition(s, rs, r, observedInside)...)
				rs.pendingInside = nil
			}
		}
	}

	if rs.committedInside {
		dwellMs := s.TsMs - rs.enterTs
		if dwellMs >= r.dwellThresholdMs(e.cfg) && !rs.dwellEmitted {
			rs.dwellEmitted = true
			trackID := s.TrackID
			events = append(events, eva.Event{
				Name:     "roi_dwell",
				Severity: eva.SeverityMedium,
				TrackID:  &trackID,
				Data:     map[string]interface{}{"roi": r.Name, "dwell_ms": dwellMs},
			})
		}
	}

	return events
}

func (e *Engine) commitTransition(s eva.Sample, rs *regionState, r Region, inside bool) []eva.Event {
	rs.committedInside = inside
	trackID := s.TrackID
	if inside {
		rs.enterTs = s.TsMs
		rs.dwellEmitted = false
		return []eva.Event{{
			Name:     "roi_enter",
			Severity: eva.SeverityLow,
			TrackID:  &trackID,
			Data:     map[string]interface{}{"roi": r.Name},
		}}
	}
	return []eva.Event{{
		Name:     "roi_exit",
		Severity: eva.SeverityLow,
		TrackID:  &trackID,
		Data:     map[string]interface{}{"roi": r.Name},
	}}
}

func (e *Engine) processLine(s eva.Sample, st *trackState, l Line) (eva.Event, bool) {
	side := l.side(s.X, s.Y)
	if side == "" {
		return eva.Event{}, false
	}
	prev, seen := st.lineSides[l.Name]
	st.lineSides[l.Name] = side
	if !seen || prev == "" || prev == side {
		return eva.Event{}, false
	}

	trackID := s.TrackID
	return eva.Event{
		Name:     "line_cross",
		Severity: eva.SeverityMedium,
		TrackID:  &trackID,
		Data:     map[string]interface{}{"line": l.Name, "direction": prev + "->" + side},
	}, true
}

func (e *Engine) evictStale(nowMs int64) {
	for id, st := range e.tracks {
		if nowMs-st.lastSeenTsMs > trackTTLMs {
			delete(e.tracks, id)
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
