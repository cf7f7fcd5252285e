// Package wire implements the C1 wire protocol: decoding inbound binary
// frame envelopes and encoding outbound JSON messages.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/deflagg/eva/pkg/eva"
)

const ProtocolVersion = 1

// Error codes, per-frame recoverable and insight-specific (spec section 7).
const (
	ErrInvalidFrameBinary         = "INVALID_FRAME_BINARY"
	ErrInvalidJSON                = "INVALID_JSON"
	ErrInvalidImage               = "INVALID_IMAGE"
	ErrInvalidCommand             = "INVALID_COMMAND"
	ErrUnsupportedCommand         = "UNSUPPORTED_COMMAND"
	ErrFrameBinaryRequired        = "FRAME_BINARY_REQUIRED"
	ErrBusy                       = "BUSY"
	ErrInferenceError             = "INFERENCE_ERROR"
	ErrInsightsDisabled           = "INSIGHTS_DISABLED"
	ErrInsightCooldown            = "INSIGHT_COOLDOWN"
	ErrInsightBusy                = "INSIGHT_BUSY"
	ErrNoTriggerFrame             = "NO_TRIGGER_FRAME"
	ErrNoClipFrames               = "NO_CLIP_FRAMES"
	ErrInsightAssetWriteFailed    = "INSIGHT_ASSET_WRITE_FAILED"
	ErrInsightDownsampleDecodeErr = "INSIGHT_DOWNSAMPLE_DECODE_FAILED"
	ErrInsightDownsampleEncodeErr = "INSIGHT_DOWNSAMPLE_ENCODE_FAILED"
	ErrVisionAgentTimeout         = "VISION_AGENT_TIMEOUT"
	ErrVisionAgentUnreachable     = "VISION_AGENT_UNREACHABLE"
	ErrVisionAgentError           = "VISION_AGENT_ERROR"
	ErrVisionAgentInvalidResp     = "VISION_AGENT_INVALID_RESPONSE"
)

// FrameMeta is the JSON metadata object preceding the JPEG payload in a
// binary frame envelope.
type FrameMeta struct {
	Type       string `json:"type"`
	V          int    `json:"v"`
	FrameID    string `json:"frame_id"`
	TsMs       int64  `json:"ts_ms"`
	Mime       string `json:"mime"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	ImageBytes int    `json:"image_bytes"`
}

func (m FrameMeta) validate() error {
	if m.Type != "frame_binary" {
		return fmt.Errorf("type must be %q, got %q", "frame_binary", m.Type)
	}
	if m.V != ProtocolVersion {
		return fmt.Errorf("unsupported protocol version %d", m.V)
	}
	if m.FrameID == "" {
		return fmt.Errorf("frame_id must not be empty")
	}
	if m.TsMs < 0 {
		return fmt.Errorf("ts_ms must be >= 0")
	}
	if m.Mime != "image/jpeg" {
		return fmt.Errorf("mime must be %q", "image/jpeg")
	}
	if m.Width < 1 || m.Height < 1 {
		return fmt.Errorf("width/height must be >= 1")
	}
	if m.ImageBytes < 1 {
		return fmt.Errorf("image_bytes must be >= 1")
	}
	return nil
}

// DecodeEnvelope parses a binary frame envelope: a 4-byte big-endian length
// L, L bytes of JSON metadata, then the raw JPEG of declared length.
func DecodeEnvelope(payload []byte) (eva.Frame, error) {
	if len(payload) < 4 {
		return eva.Frame{}, fmt.Errorf("%s: payload shorter than length prefix", ErrInvalidFrameBinary)
	}
	l := binary.BigEndian.Uint32(payload[:4])
	if l == 0 {
		return eva.Frame{}, fmt.Errorf("%s: declared metadata length is zero", ErrInvalidFrameBinary)
	}
	rest := payload[4:]
	if uint64(l) > uint64(len(rest)) {
		return eva.Frame{}, fmt.Errorf("%s: declared metadata length exceeds payload", ErrInvalidFrameBinary)
	}
	metaBytes := rest[:l]
	jpeg := rest[l:]

	var meta FrameMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return eva.Frame{}, fmt.Errorf("%s: metadata is not valid JSON: %w", ErrInvalidFrameBinary, err)
	}
	if err := meta.validate(); err != nil {
		return eva.Frame{}, fmt.Errorf("%s: %w", ErrInvalidFrameBinary, err)
	}
	if len(jpeg) != meta.ImageBytes {
		return eva.Frame{}, fmt.Errorf("%s: image_bytes=%d but %d bytes of JPEG follow", ErrInvalidFrameBinary, meta.ImageBytes, len(jpeg))
	}

	return eva.Frame{
		FrameID:    meta.FrameID,
		TsMs:       meta.TsMs,
		Mime:       meta.Mime,
		Width:      meta.Width,
		Height:     meta.Height,
		ImageBytes: jpeg,
	}, nil
}

// Command is an inbound JSON text message.
type Command struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// DecodeText parses an inbound text message, returning the command name or
// an error code when the message is not a recognized command.
func DecodeText(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("%s: %w", ErrInvalidJSON, err)
	}
	if cmd.Type != "command" {
		return Command{}, fmt.Errorf("%s: expected type=\"command\"", ErrInvalidCommand)
	}
	if cmd.Name != "insight_test" {
		return Command{}, fmt.Errorf("%s: unsupported command %q", ErrUnsupportedCommand, cmd.Name)
	}
	return cmd, nil
}

// Outbound message envelopes. Every outbound message carries type and v=1.

type HelloMessage struct {
	Type string `json:"type"`
	V    int    `json:"v"`
	Role string `json:"role"`
	TsMs int64  `json:"ts_ms"`
}

func NewHello(role string, tsMs int64) HelloMessage {
	return HelloMessage{Type: "hello", V: ProtocolVersion, Role: role, TsMs: tsMs}
}

type EventEntry struct {
	Name     string                 `json:"name"`
	Severity eva.Severity           `json:"severity"`
	TrackID  *int64                 `json:"track_id,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

func eventEntries(events []eva.Event) []EventEntry {
	entries := make([]EventEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, EventEntry{Name: e.Name, Severity: e.Severity, TrackID: e.TrackID, Data: e.Data})
	}
	return entries
}

type FrameEventsMessage struct {
	Type    string       `json:"type"`
	V       int          `json:"v"`
	FrameID string       `json:"frame_id"`
	TsMs    int64        `json:"ts_ms"`
	Width   int          `json:"width"`
	Height  int          `json:"height"`
	Events  []EventEntry `json:"events"`
}

func NewFrameEvents(f eva.Frame, events []eva.Event) FrameEventsMessage {
	return FrameEventsMessage{
		Type:    "frame_events",
		V:       ProtocolVersion,
		FrameID: f.FrameID,
		TsMs:    f.TsMs,
		Width:   f.Width,
		Height:  f.Height,
		Events:  eventEntries(events),
	}
}

type DetectionEntry struct {
	ClsID   int     `json:"cls_id"`
	Name    string  `json:"name"`
	Conf    float64 `json:"conf"`
	Box     eva.Box `json:"box"`
	TrackID *int64  `json:"track_id,omitempty"`
}

type DetectionsMessage struct {
	Type       string           `json:"type"`
	V          int              `json:"v"`
	FrameID    string           `json:"frame_id"`
	TsMs       int64            `json:"ts_ms"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Detections []DetectionEntry `json:"detections"`
	Events     []EventEntry     `json:"events,omitempty"`
}

func NewDetections(f eva.Frame, dets []eva.Detection, events []eva.Event) DetectionsMessage {
	entries := make([]DetectionEntry, 0, len(dets))
	for _, d := range dets {
		entries = append(entries, DetectionEntry{ClsID: d.ClsID, Name: d.Name, Conf: d.Conf, Box: d.Box, TrackID: d.TrackID})
	}
	return DetectionsMessage{
		Type:       "detections",
		V:          ProtocolVersion,
		FrameID:    f.FrameID,
		TsMs:       f.TsMs,
		Width:      f.Width,
		Height:     f.Height,
		Detections: entries,
		Events:     eventEntries(events),
	}
}

type InsightUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

type InsightSummary struct {
	OneLiner    string   `json:"one_liner"`
	TTSResponse *string  `json:"tts_response,omitempty"`
	WhatChanged []string `json:"what_changed"`
	Severity    string   `json:"severity"`
	Tags        []string `json:"tags"`
}

type InsightMessage struct {
	Type           string         `json:"type"`
	V              int            `json:"v"`
	ClipID         string         `json:"clip_id"`
	TriggerFrameID string         `json:"trigger_frame_id"`
	TsMs           int64          `json:"ts_ms"`
	Summary        InsightSummary `json:"summary"`
	Usage          InsightUsage   `json:"usage"`
}

func NewInsight(clipID, triggerFrameID string, tsMs int64, summary InsightSummary, usage InsightUsage) InsightMessage {
	return InsightMessage{
		Type:           "insight",
		V:              ProtocolVersion,
		ClipID:         clipID,
		TriggerFrameID: triggerFrameID,
		TsMs:           tsMs,
		Summary:        summary,
		Usage:          usage,
	}
}

type ErrorMessage struct {
	Type    string  `json:"type"`
	V       int     `json:"v"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
	FrameID *string `json:"frame_id,omitempty"`
}

func NewError(code, message string, frameID *string) ErrorMessage {
	return ErrorMessage{Type: "error", V: ProtocolVersion, Code: code, Message: message, FrameID: frameID}
}
