// Package scheduler runs the capture loop: on every tick it sends at most one frame
// to the detection oracle and folds the answer into the tracker.
package scheduler

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/LdDl/mot-overlay/capture"
	"github.com/LdDl/mot-overlay/internal/clock"
	"github.com/LdDl/mot-overlay/mot"
	"github.com/LdDl/mot-overlay/oracle"
)

// DefaultInterval is the capture period
const DefaultInterval = time.Second

// Outcome tells what a single tick did.
type Outcome int

const (
	// OutcomeSubmitted means a frame went to the oracle
	OutcomeSubmitted Outcome = iota
	// OutcomeBusy means the tick was dropped because a request is still outstanding
	OutcomeBusy
	// OutcomeHidden means the tick was dropped because nobody is watching
	OutcomeHidden
	// OutcomePaused means the tick was dropped because the camera is not streaming
	OutcomePaused
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeBusy:
		return "busy"
	case OutcomeHidden:
		return "hidden"
	case OutcomePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// FrameSource gives the current camera frame.
type FrameSource interface {
	Capture(ctx context.Context) (image.Image, error)
}

// stateful is implemented by sources with a lifecycle, like *capture.Session.
// Ticks are skipped while such a source is not streaming.
type stateful interface {
	State() capture.State
}

// Sink receives the track snapshot after every pass.
type Sink interface {
	Publish(at time.Time, tracks []mot.Track)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(at time.Time, tracks []mot.Track)

func (f SinkFunc) Publish(at time.Time, tracks []mot.Track) {
	f(at, tracks)
}

// Option customizes Scheduler.
type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithVisibility sets the gate consulted on every tick. Hidden ticks issue no requests.
func WithVisibility(visible func() bool) Option {
	return func(s *Scheduler) { s.visible = visible }
}

func WithSink(sink Sink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler drops ticks instead of queueing them: a tick that finds a request
// in flight, a hidden overlay or a paused camera does nothing but expire stale tracks.
type Scheduler struct {
	source   FrameSource
	encoder  capture.Encoder
	detector oracle.Detector
	tracker  *mot.GreedyIoUTracker

	clock    clock.Clock
	interval time.Duration
	visible  func() bool
	sink     Sink
	log      logrus.FieldLogger
	metrics  *Metrics

	guard requestGuard
	wg    sync.WaitGroup
}

func New(source FrameSource, encoder capture.Encoder, detector oracle.Detector, tracker *mot.GreedyIoUTracker, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		encoder:  encoder,
		detector: detector,
		tracker:  tracker,
		clock:    clock.RealClock{},
		interval: DefaultInterval,
		visible:  func() bool { return true },
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "scheduler")
	return s
}

// Interval returns the capture period
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Outstanding returns handle of the request in flight, if any
func (s *Scheduler) Outstanding() (Request, bool) {
	return s.guard.outstanding()
}

// Run ticks until ctx is done. A request in flight at that moment is left to finish;
// use Wait to block until it has.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.WithField("interval", s.interval.String()).Info("Capture loop started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Capture loop stopped")
			return ctx.Err()
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}

// Wait blocks until the outstanding request (if any) has completed.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Tick performs one scheduling decision.
// Expiry runs on every tick, so a slow or failing oracle never leaves stale tracks on screen.
func (s *Scheduler) Tick(ctx context.Context) Outcome {
	now := s.clock.Now()
	s.expire(now)

	if !s.visible() {
		s.metrics.tick(OutcomeHidden)
		return OutcomeHidden
	}
	if src, ok := s.source.(stateful); ok {
		if state := src.State(); state != capture.StateStreaming {
			s.metrics.tick(OutcomePaused)
			s.log.WithField("state", string(state)).Debug("Camera is not streaming, tick dropped")
			return OutcomePaused
		}
	}

	req, ok := s.guard.acquire(now)
	if !ok {
		s.metrics.tick(OutcomeBusy)
		s.log.Debug("Request outstanding, tick dropped")
		return OutcomeBusy
	}
	s.metrics.tick(OutcomeSubmitted)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.guard.release(req)
		// Request is allowed to complete after the loop is stopped
		s.serve(context.WithoutCancel(ctx), req)
	}()
	return OutcomeSubmitted
}

func (s *Scheduler) serve(ctx context.Context, req *Request) {
	log := s.log.WithField("request", req.ID.String())

	frame, err := s.source.Capture(ctx)
	if err != nil {
		if errors.Is(err, capture.ErrNotStreaming) {
			// Paused between the tick and the capture
			log.Debug("Camera is not streaming, frame skipped")
			return
		}
		s.metrics.captureError()
		log.WithError(err).Warn("Can't capture frame")
		return
	}
	payload, err := s.encoder.Encode(frame)
	if err != nil {
		s.metrics.captureError()
		log.WithError(err).Warn("Can't encode frame")
		return
	}

	detections, err := s.detector.Detect(ctx, payload)
	latency := s.clock.Since(req.Started).Seconds()
	if err != nil {
		// No detections this cycle: tracks are left to age
		s.metrics.request("error", latency)
		log.WithError(err).Warn("Detection request failed")
		return
	}

	now := s.clock.Now()
	tracks, err := s.tracker.MatchObjects(now, detections)
	if err != nil {
		if errors.Is(err, mot.ErrTrackerClosed) {
			s.metrics.request("discarded", latency)
			log.Debug("Tracker closed, detections discarded")
			return
		}
		s.metrics.request("error", latency)
		log.WithError(err).Error("Can't match detections")
		return
	}
	s.metrics.request("ok", latency)
	log.WithFields(logrus.Fields{
		"detections": len(detections),
		"tracks":     len(tracks),
		"latency":    latency,
	}).Debug("Detections applied")
	s.publish(now, tracks)
}

// expire evicts tracks which reached TTL and republishes the shrunk snapshot
func (s *Scheduler) expire(now time.Time) {
	evicted := s.tracker.Expire(now)
	if evicted == 0 {
		return
	}
	s.log.WithField("evicted", evicted).Debug("Expired stale tracks")
	s.publish(now, s.tracker.Snapshot(now))
}

func (s *Scheduler) publish(at time.Time, tracks []mot.Track) {
	s.metrics.tracks(len(tracks))
	if s.sink != nil {
		s.sink.Publish(at, tracks)
	}
}
