package insight

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deflagg/eva/internal/framebuffer"
	"github.com/deflagg/eva/internal/logger"
	"github.com/deflagg/eva/pkg/eva"
)

func testLog() logger.Module {
	return logger.New(logger.SILENT, io.Discard, false).WithModule("insight")
}

func validJPEG(t *testing.T) []byte {
	t.Helper()
	// JPEG start marker, a JFIF header and the end marker, with no image
	// data: not decodable, which is enough here because downsampling is off.
	return []byte{
		0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00, 0x01,
		0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0xFF, 0xD9,
	}
}

func TestScoreSumsWeightsOfPresentEvents(t *testing.T) {
	cfg := Config{SurpriseWeights: map[string]float64{"near_collision": 5, "roi_dwell": 2}}
	c := New(cfg, framebuffer.New(), testLog())
	score := c.Score([]eva.Event{{Name: "near_collision"}, {Name: "roi_dwell"}, {Name: "unknown"}})
	assert.Equal(t, 7.0, score)
}

func TestShouldAutoTriggerRespectsThresholdAndInFlight(t *testing.T) {
	cfg := Config{SurpriseEnabled: true, SurpriseThreshold: 5, SurpriseCooldownMs: 1000, InsightCooldownMs: 1000}
	c := New(cfg, framebuffer.New(), testLog())

	assert.False(t, c.ShouldAutoTrigger(4, 0))
	assert.True(t, c.ShouldAutoTrigger(5, 0))
	assert.False(t, c.ShouldAutoTrigger(5, 10), "already in flight")
	c.MarkAutoDone()
}

func TestTriggerManualFailsWhenBufferEmpty(t *testing.T) {
	cfg := Config{Enabled: true, MaxFrames: 6, PreFrames: 2, PostFrames: 2, TimeoutMs: 10}
	c := New(cfg, framebuffer.New(), testLog())
	res := c.TriggerManual(context.Background(), 0)
	assert.Equal(t, "NO_TRIGGER_FRAME", res.ErrCode)
}

func TestTriggerManualFailsWhenDisabled(t *testing.T) {
	cfg := Config{Enabled: false}
	c := New(cfg, framebuffer.New(), testLog())
	res := c.TriggerManual(context.Background(), 0)
	assert.Equal(t, "INSIGHTS_DISABLED", res.ErrCode)
}

func TestTriggerManualHonorsCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"summary": Summary{OneLiner: "ok", Severity: "low", WhatChanged: []string{"nothing notable"}},
			"usage":   Usage{},
		})
	}))
	defer srv.Close()

	buf := framebuffer.New()
	buf.Add(eva.Frame{FrameID: "f1", ImageBytes: validJPEG(t)})

	cfg := Config{Enabled: true, AgentURL: srv.URL, MaxFrames: 6, PreFrames: 0, PostFrames: 0, TimeoutMs: 1000, InsightCooldownMs: 10000, AssetsDir: t.TempDir()}
	c := New(cfg, buf, testLog())

	first := c.TriggerManual(context.Background(), 0)
	require.False(t, first.Failed())

	buf.Add(eva.Frame{FrameID: "f2", ImageBytes: validJPEG(t)})
	second := c.TriggerManual(context.Background(), 100)
	assert.Equal(t, "INSIGHT_COOLDOWN", second.ErrCode)
}

func TestIsSuppressedAutoFailure(t *testing.T) {
	assert.True(t, IsSuppressedAutoFailure("INSIGHT_COOLDOWN"))
	assert.True(t, IsSuppressedAutoFailure("NO_TRIGGER_FRAME"))
	assert.True(t, IsSuppressedAutoFailure("INSIGHTS_DISABLED"))
	assert.False(t, IsSuppressedAutoFailure("VISION_AGENT_ERROR"))
}
