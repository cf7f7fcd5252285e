// Package collision implements C6: per-pair distance/closing-speed state
// with cooled-down near-collision emission.
package collision

import (
	"math"
	"sort"

	"github.com/deflagg/eva/pkg/eva"
)

const pairTTLMs = 30_000

// Config is the C6 configuration surface (collision.* keys).
type Config struct {
	Pairs             [][2]string // canonical (lexicographically sorted) class pairs
	DistancePx        float64
	ClosingSpeedPxS   float64
	PairCooldownMs    int64
	MaxStalenessMs    int64 // 0 means no cap
}

func (c Config) eligible(classA, classB string) bool {
	a, b := canonicalPair(classA, classB)
	for _, p := range c.Pairs {
		if p[0] == a && p[1] == b {
			return true
		}
	}
	return false
}

func canonicalPair(a, b string) (string, string) {
	if a > b {
		a, b = b, a
	}
	return a, b
}

type pairKey struct {
	lo, hi int64
}

func keyFor(a, b int64) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

type pairState struct {
	lastDistancePx float64
	lastTsMs       int64
	lastEventTsMs  int64
	lastSeenTsMs   int64
	hasPrior       bool
}

// Engine holds per-pair distance/closing-speed state across frames.
type Engine struct {
	cfg   Config
	pairs map[pairKey]*pairState
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, pairs: make(map[pairKey]*pairState)}
}

// Process evaluates every unordered pair of the frame's samples once,
// emitting near_collision events in pair-iteration order.
func (e *Engine) Process(samples []eva.Sample) []eva.Event {
	var events []eva.Event

	for i := 0; i < len(samples); i++ {
		for j := i + 1; j < len(samples); j++ {
			a, b := samples[i], samples[j]
			if a.TrackID == b.TrackID {
				continue
			}
			if !e.cfg.eligible(a.Class, b.Class) {
				continue
			}
			if ev, ok := e.processPair(a, b); ok {
				events = append(events, ev)
			}
		}
	}

	e.evictStale(latestTs(samples))
	return events
}

func (e *Engine) processPair(a, b eva.Sample) (eva.Event, bool) {
	key := keyFor(a.TrackID, b.TrackID)
	ps, ok := e.pairs[key]
	if !ok {
		ps = &pairState{}
		e.pairs[key] = ps
	}

	ts := a.TsMs
	if b.TsMs > ts {
		ts = b.TsMs
	}
	ps.lastSeenTsMs = ts

	distance := math.Hypot(a.X-b.X, a.Y-b.Y)

	prior := ps.hasPrior
	if prior && e.cfg.MaxStalenessMs > 0 && ts-ps.lastTsMs > e.cfg.MaxStalenessMs {
		prior = false
	}

	closingSpeed := 0.0
	if prior {
		dtMs := ts - ps.lastTsMs
		if dtMs > 0 {
			closingSpeed = (ps.lastDistancePx - distance) / (float64(dtMs) / 1000)
		}
	}

	emit := distance <= e.cfg.DistancePx &&
		closingSpeed >= e.cfg.ClosingSpeedPxS &&
		(ps.lastEventTsMs == 0 || ts-ps.lastEventTsMs >= e.cfg.PairCooldownMs)

	var event eva.Event
	if emit {
		ps.lastEventTsMs = ts
		classA, classB := canonicalPair(a.Class, b.Class)
		aID, bID := a.TrackID, b.TrackID
		event = eva.Event{
			Name:     "near_collision",
			Severity: eva.SeverityHigh,
			Data: map[string]interface{}{
				"a_track_id":       aID,
				"b_track_id":       bID,
				"a_class":          classA,
				"b_class":          classB,
				"distance_px":      distance,
				"closing_speed_px_s": closingSpeed,
			},
		}
	}

	ps.lastDistancePx = distance
	ps.lastTsMs = ts
	ps.hasPrior = true

	return event, emit
}

func (e *Engine) evictStale(nowMs int64) {
	for k, ps := range e.pairs {
		if nowMs-ps.lastSeenTsMs > pairTTLMs {
			delete(e.pairs, k)
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

// ParseClassPairs canonicalizes a configured list of class pairs, defaulting
// to {person,person} when empty.
func ParseClassPairs(raw [][2]string) [][2]string {
	if len(raw) == 0 {
		return [][2]string{{"person", "person"}}
	}
	out := make([][2]string, len(raw))
	for i, p := range raw {
		a, b := canonicalPair(p[0], p[1])
		out[i] = [2]string{a, b}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}
