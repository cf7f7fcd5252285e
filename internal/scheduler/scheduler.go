// Package scheduler implements C9: the single-writer, per-connection
// scheduling discipline that ingests frames, drives the detector and the
// C4-C7 geometry engines in order, and dispatches manual/auto insight
// tasks. Goroutines are coordinated by a context.Context and a wake channel
// for the inference worker; mutexes guard the pending slot, the manual
// in-flight flag and every outbound write.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deflagg/eva/internal/engine/abandoned"
	"github.com/deflagg/eva/internal/engine/collision"
	"github.com/deflagg/eva/internal/engine/motion"
	"github.com/deflagg/eva/internal/engine/roi"
	"github.com/deflagg/eva/internal/framebuffer"
	"github.com/deflagg/eva/internal/insight"
	"github.com/deflagg/eva/internal/journal"
	"github.com/deflagg/eva/internal/logger"
	"github.com/deflagg/eva/internal/metrics"
	"github.com/deflagg/eva/internal/tracker"
	"github.com/deflagg/eva/internal/wire"
	"github.com/deflagg/eva/pkg/eva"
)

// BusyPolicy selects how the scheduler behaves when a frame arrives while
// the inference worker is still busy with a prior one.
type BusyPolicy string

const (
	BusyPolicyDrop   BusyPolicy = "drop"
	BusyPolicyLatest BusyPolicy = "latest"
)

// Config bundles the per-connection knobs the scheduler itself needs,
// distinct from the engines' own configs (which the caller constructs and
// owns directly).
type Config struct {
	BusyPolicy      BusyPolicy
	ObjectClasses   map[string]bool // abandoned.object_classes, for sample routing
	ShutdownTimeout time.Duration
}

// Conn is the subset of *websocket.Conn the scheduler depends on, narrowed
// so tests can drive a fake transport without a real socket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
}

// Scheduler owns one connection's frame buffer, geometry engines and
// insight coordinator, and drives them from a single logical execution
// context realized as a handful of cooperating goroutines.
type Scheduler struct {
	conn         Conn
	connectionID string
	cfg          Config

	detector  tracker.Detector
	buf       *framebuffer.Buffer
	roiEng    *roi.Engine
	motionEng *motion.Engine
	collEng   *collision.Engine
	abandEng  *abandoned.Engine
	insight   *insight.Coordinator
	journal   *journal.Writer // nil when C13 is disabled
	metrics   *metrics.Metrics
	log       logger.Module

	sendMu sync.Mutex

	slotMu     sync.Mutex
	slot       *eva.Frame
	workerBusy bool

	manualMu       sync.Mutex
	manualInFlight bool

	previewFn func(frame eva.Frame, dets []eva.Detection, events []eva.Event)
}

// SetPreviewPublisher wires C14's passive annotated-frame broadcaster. It is
// optional: when unset, processFrame skips the annotation/publish step
// entirely so the live-preview relay never sits on the critical path.
func (s *Scheduler) SetPreviewPublisher(fn func(frame eva.Frame, dets []eva.Detection, events []eva.Event)) {
	s.previewFn = fn
}

// New constructs a Scheduler. The caller is responsible for constructing and
// owning every per-connection engine (C2, C4-C8): none of them are shared
// across connections.
func New(
	conn Conn,
	connectionID string,
	cfg Config,
	detector tracker.Detector,
	buf *framebuffer.Buffer,
	roiEng *roi.Engine,
	motionEng *motion.Engine,
	collEng *collision.Engine,
	abandEng *abandoned.Engine,
	insightCoord *insight.Coordinator,
	journalWriter *journal.Writer,
	m *metrics.Metrics,
	log logger.Module,
) *Scheduler {
	return &Scheduler{
		conn: conn, connectionID: connectionID, cfg: cfg,
		detector: detector, buf: buf,
		roiEng: roiEng, motionEng: motionEng, collEng: collEng, abandEng: abandEng,
		insight: insightCoord, journal: journalWriter, metrics: m, log: log,
	}
}

// Run drives the connection until ctx is cancelled or the peer disconnects.
// It sends hello immediately, then alternates reading inbound messages and
// handing binary frames to the inference worker, until a read error or
// cancellation ends the loop.
func (s *Scheduler) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	workerCh := make(chan struct{}, 1) // wakes the inference worker when a slot is filled

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runInferenceWorker(ctx, workerCh)
	}()

	s.sendHello()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			cancel()
			wg.Wait()
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.handleBinary(ctx, data, workerCh)
		case websocket.TextMessage:
			s.handleText(ctx, data)
		}
	}
}

func (s *Scheduler) handleBinary(ctx context.Context, data []byte, workerCh chan struct{}) {
	frame, err := wire.DecodeEnvelope(data)
	if err != nil {
		s.metrics.FrameErrors.Add(1)
		s.sendError(wire.ErrInvalidFrameBinary, err.Error(), nil)
		return
	}
	s.metrics.FramesReceived.Add(1)
	frame = s.buf.Add(frame)

	s.slotMu.Lock()
	busy := s.workerBusy
	if s.cfg.BusyPolicy == BusyPolicyLatest {
		s.slot = &frame
	} else {
		if busy || s.slot != nil {
			s.slotMu.Unlock()
			s.metrics.FramesDropped.Add(1)
			s.sendError(wire.ErrBusy, "inference worker is busy", &frame.FrameID)
			return
		}
		s.slot = &frame
	}
	s.slotMu.Unlock()

	select {
	case workerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) handleText(ctx context.Context, data []byte) {
	cmd, err := wire.DecodeText(data)
	if err != nil {
		s.sendError(errCodeFromDecodeErr(err), err.Error(), nil)
		return
	}
	if cmd.Name == "insight_test" {
		go s.runManualInsight(ctx)
	}
}

func (s *Scheduler) runInferenceWorker(ctx context.Context, workerCh chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-workerCh:
		}

		s.slotMu.Lock()
		frame := s.slot
		s.slot = nil
		if frame == nil {
			s.slotMu.Unlock()
			continue
		}
		s.workerBusy = true
		s.slotMu.Unlock()

		s.processFrame(ctx, *frame)

		s.slotMu.Lock()
		s.workerBusy = false
		s.slotMu.Unlock()
	}
}

func (s *Scheduler) processFrame(ctx context.Context, frame eva.Frame) {
	start := time.Now()
	dets, err := s.detector.Detect(ctx, frame)
	s.metrics.UpdateInferenceLatency(time.Since(start))
	if err != nil {
		s.sendError(wire.ErrInferenceError, err.Error(), &frame.FrameID)
		return
	}
	dets = tracker.Normalize(frame.Width, frame.Height, dets)

	samples := tracksToSamples(frame.TsMs, dets)
	objects, persons := splitAbandonedInputs(samples, s.cfg.ObjectClasses)

	var events []eva.Event
	events = append(events, s.roiEng.Process(samples)...)
	events = append(events, s.motionEng.Process(samples)...)
	events = append(events, s.collEng.Process(samples)...)
	events = append(events, s.abandEng.Process(objects, persons)...)

	for _, e := range events {
		s.metrics.IncEvent(e.Name)
	}

	msg := wire.NewFrameEvents(frame, events)
	s.sendJSONAndJournal(msg, journal.KindEvent, frame.TsMs)

	if s.previewFn != nil {
		s.previewFn(frame, dets, events)
	}

	if len(events) > 0 && s.insight != nil {
		score := s.insight.Score(events)
		if s.insight.ShouldAutoTrigger(score, frame.TsMs) {
			go s.runAutoInsight(ctx, frame)
		}
	}
}

func (s *Scheduler) runManualInsight(ctx context.Context) {
	s.manualMu.Lock()
	if s.manualInFlight {
		s.manualMu.Unlock()
		s.sendError(wire.ErrInsightBusy, "a manual insight is already in flight", nil)
		return
	}
	s.manualInFlight = true
	s.manualMu.Unlock()
	defer func() {
		s.manualMu.Lock()
		s.manualInFlight = false
		s.manualMu.Unlock()
	}()

	res := s.insight.TriggerManual(ctx, time.Now().UnixMilli())
	s.emitInsightResult(res, true)
}

func (s *Scheduler) runAutoInsight(ctx context.Context, trigger eva.Frame) {
	res := s.insight.TriggerAuto(ctx, trigger, trigger.TsMs)
	s.emitInsightResult(res, false)
}

func (s *Scheduler) emitInsightResult(res insight.Result, manual bool) {
	if res.Failed() {
		s.metrics.IncInsightOutcome(res.ErrCode)
		if manual || !insight.IsSuppressedAutoFailure(res.ErrCode) {
			s.sendError(res.ErrCode, res.ErrMessage, nil)
		}
		return
	}
	s.metrics.IncInsightOutcome("ok")
	msg := wire.NewInsight(res.ClipID, res.TriggerFrameID, res.TsMs, wire.InsightSummary{
		OneLiner:    res.Summary.OneLiner,
		TTSResponse: res.Summary.TTSResponse,
		WhatChanged: res.Summary.WhatChanged,
		Severity:    res.Summary.Severity,
		Tags:        res.Summary.Tags,
	}, wire.InsightUsage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens, CostUSD: res.Usage.CostUSD})
	s.sendJSONAndJournal(msg, journal.KindInsight, res.TsMs)
}

func (s *Scheduler) sendHello() {
	s.sendJSON(wire.NewHello("server", time.Now().UnixMilli()))
}

func (s *Scheduler) sendError(code, message string, frameID *string) {
	msg := wire.NewError(code, message, frameID)
	s.sendJSONAndJournal(msg, journal.KindError, time.Now().UnixMilli())
}

func (s *Scheduler) sendJSON(v interface{}) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		s.log.Warn("write failed: %v", err)
	}
}

func (s *Scheduler) sendJSONAndJournal(v interface{}, kind journal.Kind, tsMs int64) {
	s.sendJSON(v)
	if s.journal != nil {
		if payload, err := json.Marshal(v); err == nil {
			s.journal.Write(s.connectionID, tsMs, kind, payload)
		}
	}
}

func errCodeFromDecodeErr(err error) string {
	msg := err.Error()
	for _, code := range []string{wire.ErrInvalidJSON, wire.ErrInvalidCommand, wire.ErrUnsupportedCommand} {
		if len(msg) >= len(code) && msg[:len(code)] == code {
			return code
		}
	}
	return wire.ErrInvalidCommand
}
