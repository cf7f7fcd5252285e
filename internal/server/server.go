// Package server implements C10: the HTTP/WebSocket front door. It mirrors
// the teacher's cmd/server bootstrap shape (a flag/config-driven Server
// struct wiring metrics, logging and shutdown) but hands each accepted
// connection off to its own per-connection scheduler instead of fanning
// shared-memory camera frames out to many viewers.
package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/deflagg/eva/internal/config"
	"github.com/deflagg/eva/internal/engine/abandoned"
	"github.com/deflagg/eva/internal/engine/collision"
	"github.com/deflagg/eva/internal/engine/motion"
	"github.com/deflagg/eva/internal/engine/roi"
	"github.com/deflagg/eva/internal/framebuffer"
	"github.com/deflagg/eva/internal/insight"
	"github.com/deflagg/eva/internal/journal"
	"github.com/deflagg/eva/internal/logger"
	"github.com/deflagg/eva/internal/metrics"
	"github.com/deflagg/eva/internal/scheduler"
	"github.com/deflagg/eva/internal/tracker"
	"github.com/deflagg/eva/internal/webrtcpreview"
	"github.com/deflagg/eva/pkg/eva"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// previewSampleDuration paces the preview track; detections arrive at the
// source camera's natural frame rate, not a fixed interval, so this is a
// nominal value WebRTC uses for jitter-buffer timing, not a real clock.
const previewSampleDuration = 100 * time.Millisecond

// DetectorFactory builds the per-connection detector (C3). Production
// wiring supplies a real model client; tests and demos may supply a
// CentroidTracker over a fixed/fake raw detector.
type DetectorFactory func() tracker.Detector

// Server owns the HTTP listener, the metrics listener, and every accepted
// connection's goroutine.
type Server struct {
	cfg       config.Config
	detectors DetectorFactory
	metrics   *metrics.Metrics
	log       *logger.Logger
	preview   *webrtcpreview.Server

	httpServer    *http.Server
	metricsServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Server from a resolved configuration.
func New(cfg config.Config, detectors DetectorFactory, m *metrics.Metrics, log *logger.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{cfg: cfg, detectors: detectors, metrics: m, log: log, ctx: ctx, cancel: cancel}

	if cfg.Server.WebRTCPreview.Enabled {
		s.preview = webrtcpreview.NewServer(cfg.Server.WebRTCPreview.StunServers, 10, log.WithModule("preview"))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.preview != nil {
		mux.HandleFunc("/preview/offer", s.handlePreviewOffer)
	}
	s.httpServer = &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", m.Handler())
	s.metricsServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}

	return s
}

// Start launches the HTTP and metrics listeners in the background.
func (s *Server) Start() {
	log := s.log.WithModule("transport")
	go func() {
		log.Info("listening on %s", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error: %v", err)
		}
	}()
	go func() {
		log.Info("metrics listening on %s", s.cfg.Server.MetricsAddr)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error: %v", err)
		}
	}()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handlePreviewOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	offer, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read offer", http.StatusBadRequest)
		return
	}
	answer, err := s.preview.HandleOffer(offer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("transport", "upgrade failed: %v", err)
		return
	}

	connectionID := uuid.NewString()
	connLog := s.log.WithModule("scheduler")
	s.metrics.ActiveConnections.Add(1)
	s.metrics.TotalConnections.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.metrics.ActiveConnections.Add(^uint64(0)) // decrement
		defer conn.Close()
		s.runConnection(s.ctx, conn, connectionID, connLog)
	}()
}

func (s *Server) runConnection(ctx context.Context, conn *websocket.Conn, connectionID string, log logger.Module) {
	buf := framebuffer.New()

	var journalWriter *journal.Writer
	if s.cfg.Journal.Enabled {
		w, err := journal.Open(s.cfg.Journal.Dir, connectionID, log, func() { s.metrics.JournalWriteFailures.Add(1) })
		if err != nil {
			log.Warn("failed to open journal: %v", err)
		} else {
			journalWriter = w
			defer journalWriter.Close()
		}
	}

	roiEng := roi.New(s.cfg.RoiEngineConfig())
	motionEng := motion.New(s.cfg.MotionEngineConfig())
	collEng := collision.New(s.cfg.CollisionEngineConfig())
	abandEng := abandoned.New(s.cfg.AbandonedEngineConfig())

	insightCfg := insight.Config{
		Enabled: s.cfg.Insights.Enabled, AgentURL: s.cfg.Insights.AgentURL, AssetsDir: s.cfg.Insights.AssetsDir,
		MaxClips: s.cfg.Insights.Assets.MaxClips, MaxAgeHours: s.cfg.Insights.Assets.MaxAgeHours,
		TimeoutMs: s.cfg.Insights.TimeoutMs, MaxFrames: s.cfg.Insights.MaxFrames,
		PreFrames: s.cfg.Insights.PreFrames, PostFrames: s.cfg.Insights.PostFrames,
		InsightCooldownMs: s.cfg.Insights.InsightCooldownMs,
		Downsample: insight.DownsampleConfig{
			Enabled: s.cfg.Insights.Downsample.Enabled, MaxDim: s.cfg.Insights.Downsample.MaxDim, JPEGQuality: s.cfg.Insights.Downsample.JPEGQuality,
		},
		SurpriseEnabled: s.cfg.Surprise.Enabled, SurpriseThreshold: s.cfg.Surprise.Threshold,
		SurpriseCooldownMs: s.cfg.Surprise.CooldownMs, SurpriseWeights: s.cfg.Surprise.Weights,
	}
	insightCoord := insight.New(insightCfg, buf, log)

	schedCfg := scheduler.Config{
		BusyPolicy:      scheduler.BusyPolicy(s.cfg.Tracking.BusyPolicy),
		ObjectClasses:   s.cfg.AbandonedEngineConfig().ObjectClasses,
		ShutdownTimeout: s.cfg.ShutdownTimeout(),
	}

	sched := scheduler.New(conn, connectionID, schedCfg, s.detectors(), buf, roiEng, motionEng, collEng, abandEng, insightCoord, journalWriter, s.metrics, log)

	if s.preview != nil {
		sched.SetPreviewPublisher(func(frame eva.Frame, dets []eva.Detection, events []eva.Event) {
			s.preview.Publish(webrtcpreview.Sample{
				JPEG:     webrtcpreview.Annotate(frame.ImageBytes, dets, events),
				Duration: previewSampleDuration,
			})
		})
	}

	sched.Run(ctx)
}

// Shutdown cancels every connection's context, waits (bounded by the
// configured shutdown timeout) and stops both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout()):
	}

	if s.preview != nil {
		_ = s.preview.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.metricsServer.Shutdown(shutdownCtx)
	return s.httpServer.Shutdown(shutdownCtx)
}
