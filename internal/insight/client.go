package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	errDownsampleDecode = "INSIGHT_DOWNSAMPLE_DECODE_FAILED"
	errDownsampleEncode = "INSIGHT_DOWNSAMPLE_ENCODE_FAILED"
	errVisionTimeout    = "VISION_AGENT_TIMEOUT"
	errVisionUnreach    = "VISION_AGENT_UNREACHABLE"
	errVisionError      = "VISION_AGENT_ERROR"
	errVisionInvalid    = "VISION_AGENT_INVALID_RESPONSE"
)

// VisionAgentFrame models both delivery modes the external agent contract
// allows; exactly one of AssetRelPath/ImageB64 is populated per frame. This
// deployment always persists frames to disk, so AssetRelPath is always set.
type VisionAgentFrame struct {
	FrameID      string  `json:"frame_id"`
	TsMs         int64   `json:"ts_ms"`
	Mime         string  `json:"mime"`
	AssetRelPath *string `json:"asset_rel_path,omitempty"`
	ImageB64     *string `json:"image_b64,omitempty"`
}

type visionAgentRequest struct {
	ClipID         string             `json:"clip_id"`
	TriggerFrameID string             `json:"trigger_frame_id"`
	Frames         []VisionAgentFrame `json:"frames"`
}

// Summary is the agent's natural-language description of a clip.
type Summary struct {
	OneLiner    string   `json:"one_liner"`
	TTSResponse *string  `json:"tts_response,omitempty"`
	WhatChanged []string `json:"what_changed"`
	Severity    string   `json:"severity"`
	Tags        []string `json:"tags"`
}

// Usage reports the agent's reported cost for one call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

type visionAgentResponse struct {
	Summary *Summary `json:"summary"`
	Usage   *Usage   `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// VisionAgentError carries a wire-protocol error code alongside the
// underlying cause, so callers can map it straight to an ErrorMessage.
type VisionAgentError struct {
	Code    string
	Message string
}

func (e *VisionAgentError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// AgentClient calls the external vision agent over HTTP.
type AgentClient struct {
	url        string
	httpClient *http.Client
}

func NewAgentClient(url string) *AgentClient {
	return &AgentClient{url: url, httpClient: &http.Client{}}
}

// Describe posts a clip and returns the agent's summary, mapping transport
// and HTTP-level failures to the spec's VISION_AGENT_* error codes.
func (c *AgentClient) Describe(ctx context.Context, clipID, triggerFrameID string, frames []VisionAgentFrame, timeout time.Duration) (Summary, Usage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(visionAgentRequest{ClipID: clipID, TriggerFrameID: triggerFrameID, Frames: frames})
	if err != nil {
		return Summary{}, Usage{}, &VisionAgentError{Code: errVisionInvalid, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Summary{}, Usage{}, &VisionAgentError{Code: errVisionUnreach, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return Summary{}, Usage{}, &VisionAgentError{Code: errVisionTimeout, Message: err.Error()}
		}
		return Summary{}, Usage{}, &VisionAgentError{Code: errVisionUnreach, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Summary{}, Usage{}, &VisionAgentError{Code: errVisionUnreach, Message: err.Error()}
	}

	var parsed visionAgentResponse
	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("agent returned HTTP %d", resp.StatusCode)
		if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return Summary{}, Usage{}, &VisionAgentError{Code: errVisionError, Message: msg}
	}

	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Summary == nil || parsed.Usage == nil {
		return Summary{}, Usage{}, &VisionAgentError{Code: errVisionInvalid, Message: "malformed or incomplete response"}
	}
	if err := validateResponse(*parsed.Summary, *parsed.Usage); err != nil {
		return Summary{}, Usage{}, &VisionAgentError{Code: errVisionInvalid, Message: err.Error()}
	}

	return *parsed.Summary, *parsed.Usage, nil
}

// validateResponse enforces the agent contract's non-empty-string and
// non-negative-number constraints on a parsed response.
func validateResponse(s Summary, u Usage) error {
	if s.OneLiner == "" {
		return errors.New("summary.one_liner is empty")
	}
	if s.Severity == "" {
		return errors.New("summary.severity is empty")
	}
	if len(s.WhatChanged) == 0 {
		return errors.New("summary.what_changed is empty")
	}
	for _, w := range s.WhatChanged {
		if w == "" {
			return errors.New("summary.what_changed contains an empty string")
		}
	}
	for _, t := range s.Tags {
		if t == "" {
			return errors.New("summary.tags contains an empty string")
		}
	}
	if s.TTSResponse != nil && *s.TTSResponse == "" {
		return errors.New("summary.tts_response is empty")
	}
	if u.InputTokens < 0 {
		return errors.New("usage.input_tokens is negative")
	}
	if u.OutputTokens < 0 {
		return errors.New("usage.output_tokens is negative")
	}
	if u.CostUSD < 0 {
		return errors.New("usage.cost_usd is negative")
	}
	return nil
}
