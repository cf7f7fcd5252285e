// Package config implements C11: nested configuration loaded from an
// optional YAML file and overridden by environment variables, validated
// fail-fast at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deflagg/eva/internal/engine/abandoned"
	"github.com/deflagg/eva/internal/engine/collision"
	"github.com/deflagg/eva/internal/engine/motion"
	"github.com/deflagg/eva/internal/engine/roi"
)

type TrackingConfig struct {
	Enabled            bool    `yaml:"enabled"`
	BusyPolicy         string  `yaml:"busy_policy"`
	MaxTrackDistancePx float64 `yaml:"max_track_distance_px"`
	MaxTrackAge        int     `yaml:"max_track_age"`
}

type RegionConfig struct {
	X1               float64 `yaml:"x1"`
	Y1               float64 `yaml:"y1"`
	X2               float64 `yaml:"x2"`
	Y2               float64 `yaml:"y2"`
	DwellThresholdMs *int64  `yaml:"dwell_threshold_ms"`
}

type LineConfig struct {
	X1, Y1, X2, Y2 float64
}

type RoiConfig struct {
	Enabled               bool                    `yaml:"enabled"`
	Regions               map[string]RegionConfig `yaml:"regions"`
	Lines                 map[string]LineConfig   `yaml:"lines"`
	DwellDefaultThresholdMs int64                 `yaml:"dwell_default_threshold_ms"`
	TransitionMinMs         int64                 `yaml:"transition_min_ms"`
}

type MotionConfig struct {
	HistoryFrames        int     `yaml:"history_frames"`
	SuddenMotionSpeedPxS  float64 `yaml:"sudden_motion_speed_px_s"`
	StopSpeedPxS          float64 `yaml:"stop_speed_px_s"`
	StopDurationMs        int64   `yaml:"stop_duration_ms"`
	EventCooldownMs       int64   `yaml:"event_cooldown_ms"`
}

type CollisionConfig struct {
	Pairs           [][2]string `yaml:"pairs"`
	DistancePx      float64     `yaml:"distance_px"`
	ClosingSpeedPxS float64     `yaml:"closing_speed_px_s"`
	PairCooldownMs  int64       `yaml:"pair_cooldown_ms"`
	MaxStalenessMs  int64       `yaml:"max_staleness_ms"`
}

type AbandonedConfig struct {
	ObjectClasses          []string `yaml:"object_classes"`
	AssociateMaxDistancePx float64  `yaml:"associate_max_distance_px"`
	AssociateMinMs         int64    `yaml:"associate_min_ms"`
	AbandonDelayMs         int64    `yaml:"abandon_delay_ms"`
	StationaryMaxMovePx    *float64 `yaml:"stationary_max_move_px"`
	ROI                    *string  `yaml:"roi"`
	EventCooldownMs        int64    `yaml:"event_cooldown_ms"`
}

type DownsampleConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxDim      int  `yaml:"max_dim"`
	JPEGQuality int  `yaml:"jpeg_quality"`
}

type AssetsConfig struct {
	MaxClips    int `yaml:"max_clips"`
	MaxAgeHours int `yaml:"max_age_hours"`
}

type InsightsConfig struct {
	Enabled          bool             `yaml:"enabled"`
	AgentURL         string           `yaml:"agent_url"`
	AssetsDir        string           `yaml:"assets_dir"`
	Assets           AssetsConfig     `yaml:"assets"`
	TimeoutMs        int64            `yaml:"timeout_ms"`
	MaxFrames        int              `yaml:"max_frames"`
	PreFrames        int              `yaml:"pre_frames"`
	PostFrames       int              `yaml:"post_frames"`
	InsightCooldownMs int64           `yaml:"insight_cooldown_ms"`
	Downsample       DownsampleConfig `yaml:"downsample"`
}

type SurpriseConfig struct {
	Enabled    bool               `yaml:"enabled"`
	Threshold  float64            `yaml:"threshold"`
	CooldownMs int64              `yaml:"cooldown_ms"`
	Weights    map[string]float64 `yaml:"weights"`
}

type WebRTCPreviewConfig struct {
	Enabled     bool     `yaml:"enabled"`
	StunServers []string `yaml:"stun_servers"`
}

type ServerConfig struct {
	Addr              string              `yaml:"addr"`
	MetricsAddr       string              `yaml:"metrics_addr"`
	ShutdownTimeoutMs int64               `yaml:"shutdown_timeout_ms"`
	WebRTCPreview     WebRTCPreviewConfig `yaml:"webrtc_preview"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// Config is the top-level, fully-resolved configuration for one server
// process.
type Config struct {
	Tracking  TrackingConfig  `yaml:"tracking"`
	Roi       RoiConfig       `yaml:"roi"`
	Motion    MotionConfig    `yaml:"motion"`
	Collision CollisionConfig `yaml:"collision"`
	Abandoned AbandonedConfig `yaml:"abandoned"`
	Insights  InsightsConfig  `yaml:"insights"`
	Surprise  SurpriseConfig  `yaml:"surprise"`
	Server    ServerConfig    `yaml:"server"`
	Journal   JournalConfig   `yaml:"journal"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the configuration with every default value from the
// specification applied.
func Default() Config {
	return Config{
		Tracking: TrackingConfig{Enabled: true, BusyPolicy: "drop", MaxTrackDistancePx: 80, MaxTrackAge: 5},
		Roi: RoiConfig{
			Enabled:                 true,
			DwellDefaultThresholdMs: 3000,
			TransitionMinMs:         0,
		},
		Motion: MotionConfig{
			HistoryFrames:        5,
			SuddenMotionSpeedPxS: 400,
			StopSpeedPxS:         5,
			StopDurationMs:       1000,
			EventCooldownMs:      2000,
		},
		Collision: CollisionConfig{
			Pairs:           [][2]string{{"person", "person"}},
			DistancePx:      80,
			ClosingSpeedPxS: 60,
			PairCooldownMs:  2000,
		},
		Abandoned: AbandonedConfig{
			ObjectClasses:          []string{"backpack", "suitcase"},
			AssociateMaxDistancePx: 120,
			AssociateMinMs:         1000,
			AbandonDelayMs:         10000,
			EventCooldownMs:        10000,
		},
		Insights: InsightsConfig{
			Enabled:           false,
			AssetsDir:         "./assets",
			Assets:            AssetsConfig{MaxClips: 200, MaxAgeHours: 24},
			TimeoutMs:         5000,
			MaxFrames:         6,
			PreFrames:         2,
			PostFrames:        2,
			InsightCooldownMs: 10000,
			Downsample:        DownsampleConfig{Enabled: true, MaxDim: 640, JPEGQuality: 75},
		},
		Surprise: SurpriseConfig{
			Enabled:    true,
			Threshold:  5,
			CooldownMs: 10000,
			Weights: map[string]float64{
				"near_collision":  5.0,
				"abandoned_object": 5.0,
				"roi_dwell":       2.0,
				"sudden_motion":   1.0,
			},
		},
		Server: ServerConfig{
			Addr:              ":8080",
			MetricsAddr:       ":9090",
			ShutdownTimeoutMs: 5000,
		},
		Journal: JournalConfig{Enabled: true, Dir: "./assets"},
		Log:     LogConfig{Level: "info", Color: true},
	}
}

// Load reads a YAML config file (if path is non-empty) over the defaults,
// then applies environment variable overrides, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.clamp()

	if errs := cfg.Validate(); len(errs) > 0 {
		return Config{}, &ValidationError{Errors: errs}
	}
	return cfg, nil
}

// clamp applies the spec's insight clamping rules: max_frames capped to
// [1,6], pre/post frames capped below max_frames, timeout_ms at least 1.
func (c *Config) clamp() {
	if c.Insights.MaxFrames < 1 {
		c.Insights.MaxFrames = 1
	}
	if c.Insights.MaxFrames > 6 {
		c.Insights.MaxFrames = 6
	}
	if c.Insights.PreFrames > c.Insights.MaxFrames-1 {
		c.Insights.PreFrames = c.Insights.MaxFrames - 1
	}
	if c.Insights.PostFrames > c.Insights.MaxFrames-1 {
		c.Insights.PostFrames = c.Insights.MaxFrames - 1
	}
	if c.Insights.TimeoutMs < 1 {
		c.Insights.TimeoutMs = 1
	}
}

// ValidationError aggregates every configuration violation found.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration (%d issue(s)): %s", len(e.Errors), strings.Join(e.Errors, "; "))
}

// Validate collects every violation rather than failing on the first.
func (c Config) Validate() []string {
	var errs []string

	if c.Tracking.BusyPolicy != "drop" && c.Tracking.BusyPolicy != "latest" {
		errs = append(errs, fmt.Sprintf("tracking.busy_policy must be drop or latest, got %q", c.Tracking.BusyPolicy))
	}
	if c.Tracking.MaxTrackDistancePx <= 0 {
		errs = append(errs, "tracking.max_track_distance_px must be > 0")
	}
	if c.Tracking.MaxTrackAge < 0 {
		errs = append(errs, "tracking.max_track_age must be >= 0")
	}
	if c.Roi.TransitionMinMs < 0 {
		errs = append(errs, "roi.transition_min_ms must be >= 0")
	}
	for name, r := range c.Roi.Regions {
		if r.X1 >= r.X2 || r.Y1 >= r.Y2 {
			errs = append(errs, fmt.Sprintf("roi.regions.%s must have x1<x2 and y1<y2", name))
		}
	}
	if c.Motion.HistoryFrames < 2 {
		errs = append(errs, "motion.history_frames must be >= 2")
	}
	if c.Collision.DistancePx <= 0 {
		errs = append(errs, "collision.distance_px must be > 0")
	}
	for _, cls := range c.Abandoned.ObjectClasses {
		if cls == "person" {
			errs = append(errs, "abandoned.object_classes must not include \"person\"")
		}
	}
	if c.Insights.Enabled {
		if c.Insights.AgentURL == "" {
			errs = append(errs, "insights.agent_url must be set when insights.enabled")
		}
		if c.Insights.Downsample.Enabled && (c.Insights.Downsample.JPEGQuality < 1 || c.Insights.Downsample.JPEGQuality > 100) {
			errs = append(errs, "insights.downsample.jpeg_quality must be in [1,100]")
		}
	}
	if c.Surprise.CooldownMs < 0 {
		errs = append(errs, "surprise.cooldown_ms must be >= 0")
	}

	return errs
}

// RoiEngineConfig converts the YAML-shaped config into the roi engine's
// config type.
func (c Config) RoiEngineConfig() roi.Config {
	regions := make([]roi.Region, 0, len(c.Roi.Regions))
	for name, r := range c.Roi.Regions {
		regions = append(regions, roi.Region{Name: name, X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: r.Y2, DwellThresholdMs: r.DwellThresholdMs})
	}
	lines := make([]roi.Line, 0, len(c.Roi.Lines))
	for name, l := range c.Roi.Lines {
		lines = append(lines, roi.Line{Name: name, X1: l.X1, Y1: l.Y1, X2: l.X2, Y2: l.Y2})
	}
	return roi.Config{
		Enabled:                 c.Roi.Enabled,
		Regions:                 regions,
		Lines:                   lines,
		DwellDefaultThresholdMs: c.Roi.DwellDefaultThresholdMs,
		TransitionMinMs:         c.Roi.TransitionMinMs,
	}
}

func (c Config) MotionEngineConfig() motion.Config {
	return motion.Config{
		HistoryFrames:        c.Motion.HistoryFrames,
		SuddenMotionSpeedPxS: c.Motion.SuddenMotionSpeedPxS,
		StopSpeedPxS:         c.Motion.StopSpeedPxS,
		StopDurationMs:       c.Motion.StopDurationMs,
		EventCooldownMs:      c.Motion.EventCooldownMs,
	}
}

func (c Config) CollisionEngineConfig() collision.Config {
	return collision.Config{
		Pairs:           collision.ParseClassPairs(c.Collision.Pairs),
		DistancePx:      c.Collision.DistancePx,
		ClosingSpeedPxS: c.Collision.ClosingSpeedPxS,
		PairCooldownMs:  c.Collision.PairCooldownMs,
		MaxStalenessMs:  c.Collision.MaxStalenessMs,
	}
}

func (c Config) AbandonedEngineConfig() abandoned.Config {
	classes := make(map[string]bool, len(c.Abandoned.ObjectClasses))
	for _, cls := range c.Abandoned.ObjectClasses {
		classes[cls] = true
	}

	cfg := abandoned.Config{
		ObjectClasses:          classes,
		AssociateMaxDistancePx: c.Abandoned.AssociateMaxDistancePx,
		AssociateMinMs:         c.Abandoned.AssociateMinMs,
		AbandonDelayMs:         c.Abandoned.AbandonDelayMs,
		StationaryMaxMovePx:    c.Abandoned.StationaryMaxMovePx,
		EventCooldownMs:        c.Abandoned.EventCooldownMs,
	}
	if c.Abandoned.ROI != nil {
		if r, ok := c.Roi.Regions[*c.Abandoned.ROI]; ok {
			cfg.ROI = abandoned.NewROI(r.X1, r.Y1, r.X2, r.Y2)
		}
	}
	return cfg
}

// ShutdownTimeout returns server.shutdown_timeout_ms as a Duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutMs) * time.Millisecond
}

// applyEnvOverrides walks a fixed set of six env vars (EVA_SECTION_KEY)
// rather than reflecting over the struct; every other setting comes only
// from the YAML file or the defaults. An EVA_INSIGHTS_ENABLED value that
// does not parse as a boolean is ignored.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("EVA_SERVER_ADDR"); ok {
		cfg.Server.Addr = v
	}
	if v, ok := os.LookupEnv("EVA_SERVER_METRICS_ADDR"); ok {
		cfg.Server.MetricsAddr = v
	}
	if v, ok := os.LookupEnv("EVA_INSIGHTS_AGENT_URL"); ok {
		cfg.Insights.AgentURL = v
	}
	if v, ok := os.LookupEnv("EVA_INSIGHTS_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Insights.Enabled = b
		}
	}
	if v, ok := os.LookupEnv("EVA_LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := os.LookupEnv("EVA_TRACKING_BUSY_POLICY"); ok {
		cfg.Tracking.BusyPolicy = v
	}
}
