package abandoned

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deflagg/eva/pkg/eva"
)

func TestS4AbandonedObject(t *testing.T) {
	cfg := Config{
		ObjectClasses:          map[string]bool{"backpack": true},
		AssociateMaxDistancePx: 100,
		AssociateMinMs:         1000,
		AbandonDelayMs:         2000,
		EventCooldownMs:        5000,
	}
	e := New(cfg)

	ticksMs := []int64{0, 600, 1200, 1800, 2400, 3200, 3800}
	var all []eva.Event
	for _, ts := range ticksMs {
		obj := eva.Sample{TrackID: 10, Class: "backpack", X: 100, Y: 100, TsMs: ts}
		var persons []eva.Sample
		if ts <= 1200 {
			persons = []eva.Sample{{TrackID: 20, Class: "person", X: 100, Y: 100, TsMs: ts}}
		} else {
			persons = []eva.Sample{{TrackID: 20, Class: "person", X: 500, Y: 500, TsMs: ts}}
		}
		all = append(all, e.Process([]eva.Sample{obj}, persons)...)
	}

	require.Len(t, all, 1)
	assert.Equal(t, "abandoned_object", all[0].Name)
	assert.Equal(t, int64(10), all[0].Data["object_track_id"])
	assert.Equal(t, int64(20), all[0].Data["person_track_id"])
	assert.GreaterOrEqual(t, all[0].Data["abandon_ms"].(int64), int64(2000))
}

func TestAbandonedObjectOnlyOncePerWindow(t *testing.T) {
	cfg := Config{
		ObjectClasses:          map[string]bool{"bag": true},
		AssociateMaxDistancePx: 50,
		AssociateMinMs:         100,
		AbandonDelayMs:         200,
		EventCooldownMs:        100,
	}
	e := New(cfg)

	var all []eva.Event
	for ts := int64(0); ts <= 1000; ts += 100 {
		obj := eva.Sample{TrackID: 1, Class: "bag", X: 0, Y: 0, TsMs: ts}
		var persons []eva.Sample
		if ts <= 100 {
			persons = []eva.Sample{{TrackID: 2, Class: "person", X: 0, Y: 0, TsMs: ts}}
		}
		all = append(all, e.Process([]eva.Sample{obj}, persons)...)
	}

	count := 0
	for _, ev := range all {
		if ev.Name == "abandoned_object" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestPersonClassExcludedFromObjectClasses(t *testing.T) {
	cfg := Config{ObjectClasses: map[string]bool{"backpack": true}}
	assert.False(t, cfg.ObjectClasses["person"])
}
