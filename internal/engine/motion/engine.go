// Package motion implements C5: per-track velocity history with
// sudden-motion and stop detection, each independently cooled down.
package motion

import (
	"math"

	"github.com/deflagg/eva/pkg/eva"
)

const trackTTLMs = 30_000

// Config is the C5 configuration surface (motion.* keys).
type Config struct {
	HistoryFrames          int
	SuddenMotionSpeedPxS   float64
	StopSpeedPxS           float64
	StopDurationMs         int64
	EventCooldownMs        int64
}

type sample struct {
	tsMs int64
	x, y float64
}

type trackState struct {
	history      []sample
	stopStartTs  int64
	stopArmed    bool
	stopEmitted  bool
	lastEventTs  map[string]int64
	lastSeenTsMs int64
}

// Engine holds per-track motion history and cooldown state.
type Engine struct {
	cfg    Config
	tracks map[int64]*trackState
}

func New(cfg Config) *Engine {
	if cfg.HistoryFrames < 2 {
		cfg.HistoryFrames = 2
	}
	return &Engine{cfg: cfg, tracks: make(map[int64]*trackState)}
}

// Process evaluates one frame's samples, in per-sample insertion order.
func (e *Engine) Process(samples []eva.Sample) []eva.Event {
	var events []eva.Event
	for _, s := range samples {
		events = append(events, e.processSample(s)...)
	}
	e.evictStale(latestTs(samples))
	return events
}

func (e *Engine) processSample(s eva.Sample) []eva.Event {
	st, ok := e.tracks[s.TrackID]
	if !ok {
		st = &trackState{lastEventTs: make(map[string]int64)}
		e.tracks[s.TrackID] = st
	}
	st.lastSeenTsMs = s.TsMs

	st.history = append(st.history, sample{tsMs: s.TsMs, x: s.X, y: s.Y})
	if len(st.history) > e.cfg.HistoryFrames {
		st.history = st.history[len(st.history)-e.cfg.HistoryFrames:]
	}

	vNow, vNowOk := speedFromLastTwo(st.history)
	vPrev, vPrevOk := speedFromLastTwo(trimLast(st.history, 1))

	var events []eva.Event
	if vNowOk {
		dv := 0.0
		if vPrevOk {
			dv = math.Abs(vNow - vPrev)
		}
		if (vNow >= e.cfg.SuddenMotionSpeedPxS || dv >= e.cfg.SuddenMotionSpeedPxS) && e.canEmit(st, "sudden_motion", s.TsMs) {
			e.markEmitted(st, "sudden_motion", s.TsMs)
			trackID := s.TrackID
			events = append(events, eva.Event{
				Name:     "sudden_motion",
				Severity: eva.SeverityMedium,
				TrackID:  &trackID,
				Data:     map[string]interface{}{"speed_px_s": vNow, "delta_speed_px_s": dv},
			})
		}

		if vNow <= e.cfg.StopSpeedPxS {
			if !st.stopArmed {
				st.stopArmed = true
				st.stopStartTs = s.TsMs
				st.stopEmitted = false
			}
			windowMs := s.TsMs - st.stopStartTs
			if windowMs >= e.cfg.StopDurationMs && !st.stopEmitted && e.canEmit(st, "track_stop", s.TsMs) {
				st.stopEmitted = true
				e.markEmitted(st, "track_stop", s.TsMs)
				trackID := s.TrackID
				events = append(events, eva.Event{
					Name:     "track_stop",
					Severity: eva.SeverityLow,
					TrackID:  &trackID,
					Data:     map[string]interface{}{"stopped_ms": windowMs},
				})
			}
		} else {
			st.stopArmed = false
			st.stopEmitted = false
		}
	}

	return events
}

func (e *Engine) canEmit(st *trackState, name string, tsMs int64) bool {
	last, ok := st.lastEventTs[name]
	return !ok || tsMs-last >= e.cfg.EventCooldownMs
}

func (e *Engine) markEmitted(st *trackState, name string, tsMs int64) {
	st.lastEventTs[name] = tsMs
}

func (e *Engine) evictStale(nowMs int64) {
	for id, st := range e.tracks {
		if nowMs-st.lastSeenTsMs > trackTTLMs {
			delete(e.tracks, id)
		}
	}
}

// speedFromLastTwo returns px/s speed from the last two entries, or false
// if there aren't two, or if the elapsed time is <= 0.
func speedFromLastTwo(hist []sample) (float64, bool) {
	if len(hist) < 2 {
		return 0, false
	}
	a, b := hist[len(hist)-2], hist[len(hist)-1]
	dtMs := b.tsMs - a.tsMs
	if dtMs <= 0 {
		return 0, false
	}
	dist := math.Hypot(b.x-a.x, b.y-a.y)
	return dist / (float64(dtMs) / 1000), true
}

// trimLast drops the last n entries.
func trimLast(hist []sample, n int) []sample {
	if len(hist) <= n {
		return nil
	}
	return hist[:len(hist)-n]
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
