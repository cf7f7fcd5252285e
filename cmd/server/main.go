package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deflagg/eva/internal/config"
	"github.com/deflagg/eva/internal/logger"
	"github.com/deflagg/eva/internal/metrics"
	"github.com/deflagg/eva/internal/server"
	"github.com/deflagg/eva/internal/tracker"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error, silent); overrides log.level from config")
	logColor   = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	levelName := cfg.Log.Level
	if *logLevel != "" {
		levelName = *logLevel
	}
	level, err := logger.ParseLevel(levelName)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", levelName, err)
	}
	useColor := cfg.Log.Color && *logColor
	logger.Init(level, os.Stderr, useColor)
	lg := logger.New(level, os.Stderr, useColor)
	mainLog := lg.WithModule("main")

	mainLog.Info("starting eva event-pipeline server")
	mainLog.Info("server listening on %s, metrics on %s", cfg.Server.Addr, cfg.Server.MetricsAddr)

	m := metrics.New()
	detectors := func() tracker.Detector {
		return tracker.NewCentroidTracker(tracker.NullRawDetector{}, cfg.Tracking.MaxTrackDistancePx, cfg.Tracking.MaxTrackAge)
	}

	srv := server.New(cfg, detectors, m, lg)
	srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	mainLog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout()+2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		mainLog.Error("error during shutdown: %v", err)
	}
	mainLog.Info("stopped")
}
