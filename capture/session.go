package capture

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a capture session.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateStreaming    State = "streaming"
	StatePaused       State = "paused"
	StateError        State = "error"
)

// ErrNotStreaming is returned by Capture outside of the streaming state.
var ErrNotStreaming = errors.New("capture session is not streaming")

// Session drives one Source through idle → initializing → streaming → error.
// There is no automatic retry: after an error the caller has to Start again.
type Session struct {
	source Source
	log    logrus.FieldLogger

	mu    sync.Mutex
	state State
	err   *DeviceError
	last  image.Image
}

func NewSession(source Source, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		source: source,
		log:    log.WithFields(logrus.Fields{"component": "capture", "device": source.Name()}),
		state:  StateIdle,
	}
}

// Start opens the source and waits for the first frame.
// On failure the session moves to StateError and the classified *DeviceError is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateError:
	default:
		state := s.state
		s.mu.Unlock()
		return errors.Errorf("can't start session in state %s", state)
	}
	s.state = StateInitializing
	s.err = nil
	s.mu.Unlock()

	s.log.Info("Starting capture")
	if err := s.source.Open(ctx); err != nil {
		return s.fail(err, false)
	}
	first, err := s.source.Read(ctx)
	if err != nil {
		return s.fail(err, true)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitializing {
		// Stopped while initializing
		_ = s.source.Close()
		return errors.Errorf("session was stopped during initialization")
	}
	s.state = StateStreaming
	s.last = first
	s.log.WithField("bounds", first.Bounds().String()).Info("Capture is streaming")
	return nil
}

func (s *Session) fail(err error, opened bool) error {
	if opened {
		_ = s.source.Close()
	}
	de := Classify(s.source.Name(), err)
	s.mu.Lock()
	s.state = StateError
	s.err = de
	s.mu.Unlock()
	s.log.WithError(err).WithField("kind", de.Kind.String()).Error("Capture failed to start")
	return de
}

// Capture returns the current frame while streaming.
func (s *Session) Capture(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateStreaming {
		return nil, errors.Wrapf(ErrNotStreaming, "state %s", state)
	}
	img, err := s.source.Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Can't capture frame")
	}
	s.mu.Lock()
	s.last = img
	s.mu.Unlock()
	return img, nil
}

// Pause keeps the device open but stops serving frames
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return errors.Errorf("can't pause session in state %s", s.state)
	}
	s.state = StatePaused
	return nil
}

func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return errors.Errorf("can't resume session in state %s", s.state)
	}
	s.state = StateStreaming
	return nil
}

// Stop releases the source and returns the session to idle. Safe to call in any state.
func (s *Session) Stop() error {
	s.mu.Lock()
	prev := s.state
	s.state = StateIdle
	s.err = nil
	s.last = nil
	s.mu.Unlock()

	switch prev {
	case StateStreaming, StatePaused:
		s.log.Info("Stopping capture")
		return errors.Wrap(s.source.Close(), "Can't release capture device")
	}
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error which moved session to StateError, nil otherwise
func (s *Session) Err() *DeviceError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Last returns the most recently captured frame
func (s *Session) Last() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
