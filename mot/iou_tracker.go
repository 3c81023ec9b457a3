package mot

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrTrackerClosed is returned when detections are fed into tracker which has been torn down.
var ErrTrackerClosed = errors.New("tracker is closed")

const (
	// DefaultTTL is the time a track may go unmatched before eviction
	DefaultTTL = 3000 * time.Millisecond
	// DefaultIoUThreshold is the minimum IoU to treat detection as continuation of a track
	DefaultIoUThreshold = 0.4
)

// GreedyIoUTracker is a label-aware Multi-object tracker (MOT) with greedy IoU matching.
//
// Every detection is matched, in input order, to the best not-yet-matched track of the same label.
// This is NOT a globally optimal assignment: when two detections compete for one track
// the first one processed wins and the other one becomes a new track.
// Ties between equally scored tracks are broken in favour of the earliest created track.
type GreedyIoUTracker struct {
	mu sync.Mutex
	// Session identifier of this tracker instance
	id uuid.UUID
	// Max time since last match before track is evicted
	ttl time.Duration
	// IoU threshold for matching
	iouThreshold float64
	// Time step (seconds) for motion estimation
	motionStep float64
	// Per-label sequence numbers. Never decremented
	sequences map[string]int
	colors    *palette
	// Storage for tracked objects in creation order
	tracks []*Track
	closed bool
}

// NewDefaultGreedyIoUTracker creates a default instance of GreedyIoUTracker.
// Default values: ttl=3000ms, iouThreshold=0.4, DefaultPalette, motionStep=1s
func NewDefaultGreedyIoUTracker() *GreedyIoUTracker {
	return NewGreedyIoUTracker(DefaultTTL, DefaultIoUThreshold, nil)
}

// NewGreedyIoUTracker creates a new instance of GreedyIoUTracker with specified parameters.
// Empty palette falls back to DefaultPalette.
func NewGreedyIoUTracker(ttl time.Duration, iouThreshold float64, colors []string) *GreedyIoUTracker {
	return &GreedyIoUTracker{
		id:           uuid.New(),
		ttl:          ttl,
		iouThreshold: iouThreshold,
		motionStep:   1.0,
		sequences:    make(map[string]int),
		colors:       newPalette(colors),
		tracks:       make([]*Track, 0),
	}
}

// SetMotionStep sets expected interval between detection batches, used by motion estimation
func (tracker *GreedyIoUTracker) SetMotionStep(step time.Duration) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if step > 0 {
		tracker.motionStep = step.Seconds()
	}
}

// ID returns identifier of the tracker instance
func (tracker *GreedyIoUTracker) ID() uuid.UUID {
	return tracker.id
}

// TTL returns configured time-to-live of unmatched tracks
func (tracker *GreedyIoUTracker) TTL() time.Duration {
	return tracker.ttl
}

// IoUThreshold returns configured matching threshold
func (tracker *GreedyIoUTracker) IoUThreshold() float64 {
	return tracker.iouThreshold
}

// MatchObjects folds one detection batch into the track set and returns the live tracks.
//
// Invalid detections (empty label, non-finite or inverted boxes) are skipped one by one.
// Tracks which were not seen for TTL or longer are evicted before matching,
// so a stale track can not catch a detection.
func (tracker *GreedyIoUTracker) MatchObjects(now time.Time, detections []Detection) ([]Track, error) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if tracker.closed {
		return nil, ErrTrackerClosed
	}

	// Mark all existing objects as not matched
	for _, track := range tracker.tracks {
		track.matched = false
	}

	tracker.expire(now)

	for _, detection := range detections {
		if !detection.Valid() {
			continue
		}
		best := tracker.bestCandidate(detection)
		if best != nil {
			tracker.update(best, detection, now)
			continue
		}
		// Register object as a new one
		tracker.register(detection, now)
	}

	return tracker.snapshot(now), nil
}

// bestCandidate returns same-label unmatched track with highest IoU at or above threshold.
// Strict comparison keeps the earliest created track on ties.
func (tracker *GreedyIoUTracker) bestCandidate(detection Detection) *Track {
	var best *Track
	maxIoU := -1.0
	for _, track := range tracker.tracks {
		if track.matched || track.Label != detection.Label {
			continue
		}
		iouValue := IoU(detection.Box, track.Box)
		if iouValue > maxIoU {
			maxIoU = iouValue
			best = track
		}
	}
	if best == nil || maxIoU < tracker.iouThreshold {
		return nil
	}
	return best
}

func (tracker *GreedyIoUTracker) update(track *Track, detection Detection, now time.Time) {
	track.Box = detection.Box
	track.LastSeen = now
	track.Hits++
	track.matched = true
	if err := track.motion.observe(detection.Box); err != nil {
		// Start over from the measured box
		track.motion = newMotion(detection.Box, tracker.motionStep)
	}
	track.Velocity = track.motion.velocity()
}

func (tracker *GreedyIoUTracker) register(detection Detection, now time.Time) *Track {
	tracker.sequences[detection.Label]++
	track := &Track{
		ID:        fmt.Sprintf("%s-%d", detection.Label, tracker.sequences[detection.Label]),
		Label:     detection.Label,
		Color:     tracker.colors.next(),
		Box:       detection.Box,
		FirstSeen: now,
		LastSeen:  now,
		Hits:      1,
		matched:   true,
		motion:    newMotion(detection.Box, tracker.motionStep),
	}
	tracker.tracks = append(tracker.tracks, track)
	return track
}

// Expire evicts tracks which were not matched for TTL or longer and returns number of evicted tracks
func (tracker *GreedyIoUTracker) Expire(now time.Time) int {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if tracker.closed {
		return 0
	}
	return tracker.expire(now)
}

func (tracker *GreedyIoUTracker) expire(now time.Time) int {
	alive := tracker.tracks[:0]
	for _, track := range tracker.tracks {
		if track.Age(now) >= tracker.ttl {
			continue
		}
		alive = append(alive, track)
	}
	evicted := len(tracker.tracks) - len(alive)
	// Drop references to evicted tracks
	for i := len(alive); i < len(tracker.tracks); i++ {
		tracker.tracks[i] = nil
	}
	tracker.tracks = alive
	return evicted
}

// Snapshot returns read-only copies of live tracks in creation order.
// Tracks which reached TTL are left out even if no pass has evicted them yet.
func (tracker *GreedyIoUTracker) Snapshot(now time.Time) []Track {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if tracker.closed {
		return []Track{}
	}
	return tracker.snapshot(now)
}

func (tracker *GreedyIoUTracker) snapshot(now time.Time) []Track {
	result := make([]Track, 0, len(tracker.tracks))
	for _, track := range tracker.tracks {
		if track.Age(now) >= tracker.ttl {
			continue
		}
		result = append(result, track.snapshot())
	}
	return result
}

// Len returns number of stored tracks (including the ones waiting for eviction)
func (tracker *GreedyIoUTracker) Len() int {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	return len(tracker.tracks)
}

// Close tears tracker down. Any later MatchObjects call returns ErrTrackerClosed
func (tracker *GreedyIoUTracker) Close() {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	tracker.closed = true
	tracker.tracks = nil
}

// Closed reports whether Close has been called
func (tracker *GreedyIoUTracker) Closed() bool {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	return tracker.closed
}
