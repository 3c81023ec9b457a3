package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/LdDl/mot-overlay/capture"
	"github.com/LdDl/mot-overlay/internal/config"
	"github.com/LdDl/mot-overlay/mot"
	"github.com/LdDl/mot-overlay/oracle"
	"github.com/LdDl/mot-overlay/overlay"
	"github.com/LdDl/mot-overlay/scheduler"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file (optional)")
	listen     = flag.String("listen", "", "Listen address, overrides config")
	framesDir  = flag.String("frames", "", "Directory of frames to replay, overrides config")
	endpoint   = flag.String("oracle", "", "Detection endpoint URL, overrides config")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.WithError(err).Fatal("Can't load config")
		}
	}
	if *listen != "" {
		cfg.ListenAddr = listen
	}
	if *framesDir != "" {
		cfg.FramesDir = framesDir
	}
	if *endpoint != "" {
		cfg.OracleEndpoint = endpoint
	}
	log.SetLevel(cfg.GetLogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("Overlay daemon failed")
		os.Exit(1)
	}
	log.Info("Overlay daemon stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	session := capture.NewSession(capture.NewDirSource(cfg.GetFramesDir()), log)
	if err := session.Start(ctx); err != nil {
		return errors.Wrap(err, "Can't start camera session")
	}
	defer session.Stop()

	tracker := mot.NewGreedyIoUTracker(cfg.GetTTL(), cfg.GetIoUThreshold(), cfg.GetPalette())
	tracker.SetMotionStep(cfg.GetInterval())
	log.WithFields(logrus.Fields{
		"tracker": tracker.ID().String(),
		"ttl":     tracker.TTL().String(),
		"iou":     tracker.IoUThreshold(),
	}).Info("Tracker ready")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := overlay.NewServer(func() (time.Time, []mot.Track) {
		now := time.Now()
		return now, tracker.Snapshot(now)
	}, registry, log)

	sched := scheduler.New(
		session,
		capture.NewJPEGEncoder(cfg.GetMaxFrameWidth(), cfg.GetJPEGQuality()),
		oracle.NewHTTPDetector(cfg.GetOracleEndpoint(), cfg.GetOracleTimeout(), log),
		tracker,
		scheduler.WithInterval(cfg.GetInterval()),
		scheduler.WithVisibility(srv.Visible),
		scheduler.WithSink(srv),
		scheduler.WithLogger(log),
		scheduler.WithMetrics(scheduler.NewMetrics(registry, nil)),
	)

	var wg sync.WaitGroup
	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx, cfg.GetListenAddr()); err != nil {
			errs <- err
		}
	}()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("Capture loop terminated")
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case runErr = <-errs:
	}
	cancel()

	// Results arriving after this point are discarded by the tracker
	tracker.Close()
	sched.Wait()
	wg.Wait()
	return runErr
}
