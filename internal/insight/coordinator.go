// Package insight implements C8: surprise scoring, manual/auto insight
// triggers with cooldowns, clip assembly from the frame buffer, asset
// persistence and retention, and the external vision-agent call.
package insight

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deflagg/eva/internal/framebuffer"
	"github.com/deflagg/eva/internal/logger"
	"github.com/deflagg/eva/pkg/eva"
)

// DownsampleConfig controls clip-frame resizing before persistence.
type DownsampleConfig struct {
	Enabled     bool
	MaxDim      int
	JPEGQuality int
}

// Config is C8's resolved configuration.
type Config struct {
	Enabled           bool
	AgentURL          string
	AssetsDir         string
	MaxClips          int
	MaxAgeHours       int
	TimeoutMs         int64
	MaxFrames         int
	PreFrames         int
	PostFrames        int
	InsightCooldownMs int64
	Downsample        DownsampleConfig

	SurpriseEnabled    bool
	SurpriseThreshold  float64
	SurpriseCooldownMs int64
	SurpriseWeights    map[string]float64
}

// Result is what one insight attempt produced: either a Summary/Usage pair
// on success, or a wire-protocol error code and message on failure.
type Result struct {
	ClipID         string
	TriggerFrameID string
	TsMs           int64
	Summary        Summary
	Usage          Usage
	ErrCode        string
	ErrMessage     string
}

func (r Result) Failed() bool { return r.ErrCode != "" }

// Coordinator drives one connection's insight lifecycle: it is not safe for
// concurrent manual+auto triggers to race past the in-flight guards, so the
// scheduler (C9) must serialize calls to TriggerManual/TriggerAuto per
// connection (at most one of each in flight, enforced here via mutex state).
type Coordinator struct {
	cfg    Config
	buf    *framebuffer.Buffer
	client *AgentClient
	log    logger.Module

	mu               sync.Mutex
	manualInFlight   bool
	autoInFlight     bool
	lastInsightTsMs  int64
	lastSurpriseTsMs int64
	hasEmittedOnce   bool
}

func New(cfg Config, buf *framebuffer.Buffer, log logger.Module) *Coordinator {
	var client *AgentClient
	if cfg.Enabled && cfg.AgentURL != "" {
		client = NewAgentClient(cfg.AgentURL)
	}
	return &Coordinator{cfg: cfg, buf: buf, client: client, log: log}
}

// Score computes the surprise score for one frame's batch of events: the
// weighted sum over event names, unknown names contributing zero.
func (c *Coordinator) Score(events []eva.Event) float64 {
	var score float64
	for _, e := range events {
		score += c.cfg.SurpriseWeights[e.Name]
	}
	return score
}

// ShouldAutoTrigger reports whether the just-computed score authorizes an
// auto-insight, honoring the surprise cooldown and insight cooldown and the
// "only one auto-insight in flight" rule.
func (c *Coordinator) ShouldAutoTrigger(score float64, nowMs int64) bool {
	if !c.cfg.SurpriseEnabled || score < c.cfg.SurpriseThreshold {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.autoInFlight {
		return false
	}
	if c.hasEmittedOnce && nowMs-c.lastSurpriseTsMs < c.cfg.SurpriseCooldownMs {
		return false
	}
	if c.hasEmittedOnce && nowMs-c.lastInsightTsMs < c.cfg.InsightCooldownMs {
		return false
	}
	c.autoInFlight = true
	return true
}

// TriggerManual runs a manual insight_test command against the most recent
// buffered frame. Cooldown and empty-buffer failures surface to the client
// per the spec; only one manual trigger may be in flight at a time.
func (c *Coordinator) TriggerManual(ctx context.Context, nowMs int64) Result {
	c.mu.Lock()
	if !c.cfg.Enabled {
		c.mu.Unlock()
		return Result{ErrCode: "INSIGHTS_DISABLED", ErrMessage: "insights are disabled"}
	}
	if c.manualInFlight {
		c.mu.Unlock()
		return Result{ErrCode: "INSIGHT_BUSY", ErrMessage: "a manual insight is already in flight"}
	}
	if c.hasEmittedOnce && nowMs-c.lastInsightTsMs < c.cfg.InsightCooldownMs {
		c.mu.Unlock()
		return Result{ErrCode: "INSIGHT_COOLDOWN", ErrMessage: "insight cooldown active"}
	}
	c.manualInFlight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.manualInFlight = false
		c.mu.Unlock()
	}()

	trigger, ok := c.buf.Latest()
	if !ok {
		return Result{ErrCode: "NO_TRIGGER_FRAME", ErrMessage: "frame buffer is empty"}
	}
	return c.runClip(ctx, trigger, nowMs)
}

// TriggerAuto runs an auto-insight using triggerFrame as the trigger. Caller
// must have already passed ShouldAutoTrigger and must call MarkAutoDone
// exactly once when this returns, regardless of outcome.
func (c *Coordinator) TriggerAuto(ctx context.Context, triggerFrame eva.Frame, nowMs int64) Result {
	defer c.MarkAutoDone()
	return c.runClip(ctx, triggerFrame, nowMs)
}

// MarkAutoDone clears the auto-insight in-flight guard.
func (c *Coordinator) MarkAutoDone() {
	c.mu.Lock()
	c.autoInFlight = false
	c.mu.Unlock()
}

func (c *Coordinator) runClip(ctx context.Context, trigger eva.Frame, nowMs int64) Result {
	pre := c.buf.CollectPre(trigger.Seq, c.cfg.PreFrames)
	post := c.buf.AwaitPost(ctx, trigger.Seq, c.cfg.PostFrames, time.Duration(c.cfg.TimeoutMs)*time.Millisecond)

	frames := make([]eva.Frame, 0, len(pre)+1+len(post))
	frames = append(frames, pre...)
	frames = append(frames, trigger)
	frames = append(frames, post...)
	if len(frames) > c.cfg.MaxFrames {
		frames = frames[:c.cfg.MaxFrames]
	}
	if len(frames) == 0 {
		return Result{ErrCode: "NO_CLIP_FRAMES", ErrMessage: "no frames available to build a clip"}
	}

	clipID := uuid.NewString()
	relPaths, err := writeClipAssets(c.cfg.AssetsDir, clipID, frames, c.cfg.Downsample)
	if err != nil {
		code := "INSIGHT_ASSET_WRITE_FAILED"
		switch {
		case strings.Contains(err.Error(), errDownsampleDecode):
			code = errDownsampleDecode
		case strings.Contains(err.Error(), errDownsampleEncode):
			code = errDownsampleEncode
		}
		return Result{ErrCode: code, ErrMessage: err.Error()}
	}

	if err := pruneClips(c.cfg.AssetsDir, clipID, c.cfg.MaxClips, c.cfg.MaxAgeHours); err != nil {
		c.log.Warn("clip retention prune failed: %v", err)
	}

	agentFrames := make([]VisionAgentFrame, len(frames))
	for i, f := range frames {
		relPath := relPaths[i]
		agentFrames[i] = VisionAgentFrame{FrameID: f.FrameID, TsMs: f.TsMs, Mime: "image/jpeg", AssetRelPath: &relPath}
	}

	if c.client == nil {
		return Result{ErrCode: "INSIGHTS_DISABLED", ErrMessage: "insights are disabled"}
	}

	summary, usage, err := c.client.Describe(ctx, clipID, trigger.FrameID, agentFrames, time.Duration(c.cfg.TimeoutMs)*time.Millisecond)
	if err != nil {
		vae, _ := asVisionAgentError(err)
		code := "VISION_AGENT_ERROR"
		if vae != nil {
			code = vae.Code
		}
		return Result{ErrCode: code, ErrMessage: err.Error()}
	}

	c.mu.Lock()
	c.lastInsightTsMs = nowMs
	c.lastSurpriseTsMs = nowMs
	c.hasEmittedOnce = true
	c.mu.Unlock()

	return Result{ClipID: clipID, TriggerFrameID: trigger.FrameID, TsMs: nowMs, Summary: summary, Usage: usage}
}

func asVisionAgentError(err error) (*VisionAgentError, bool) {
	vae, ok := err.(*VisionAgentError)
	return vae, ok
}

// IsSuppressedAutoFailure reports whether an auto-insight failure with this
// code must be swallowed rather than surfaced as a client-visible error.
func IsSuppressedAutoFailure(code string) bool {
	switch code {
	case "INSIGHT_COOLDOWN", "NO_TRIGGER_FRAME", "INSIGHTS_DISABLED":
		return true
	default:
		return false
	}
}

