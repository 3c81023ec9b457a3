package mot

import (
	"fmt"
	"time"
)

// Detection is a single labeled box reported by a detector for one frame.
// Detections are produced fresh for each cycle and never retained by the tracker.
type Detection struct {
	Label string
	Box   Box
}

func NewDetection(label string, box Box) Detection {
	return Detection{
		Label: label,
		Box:   box,
	}
}

// Valid reports whether detection could take part in matching
func (d Detection) Valid() bool {
	return d.Label != "" && d.Box.Valid()
}

// Track is a persistent identity assigned to a physical object across detection cycles.
// ID and Color never change once assigned.
type Track struct {
	// Identity: "{label}-{sequence}"
	ID    string
	Label string
	// Color is taken from tracker's palette
	Color string
	// Last matched box (raw detection, not smoothed)
	Box Box
	// Time of creation and of the last successful match
	FirstSeen time.Time
	LastSeen  time.Time
	// Number of detections folded into this track
	Hits int
	// Estimated box velocity (per second)
	Velocity Velocity

	matched bool
	motion  *motion
}

// Age returns time elapsed since the last successful match
func (track *Track) Age(now time.Time) time.Duration {
	return now.Sub(track.LastSeen)
}

// Extrapolate shifts the box along estimated velocity to the given moment.
// Useful for renderers which draw more often than detections arrive.
func (track *Track) Extrapolate(at time.Time) Box {
	elapsed := at.Sub(track.LastSeen).Seconds()
	if elapsed <= 0 {
		return track.Box
	}
	center := track.Box.Center()
	cx := center.X + track.Velocity.VX*elapsed
	cy := center.Y + track.Velocity.VY*elapsed
	w := maxFloat64(0, track.Box.Width()+track.Velocity.VW*elapsed)
	h := maxFloat64(0, track.Box.Height()+track.Velocity.VH*elapsed)
	return Box{
		XMin: cx - w/2.0,
		YMin: cy - h/2.0,
		XMax: cx + w/2.0,
		YMax: cy + h/2.0,
	}.Clamp()
}

func (track *Track) String() string {
	return fmt.Sprintf("%s %v", track.ID, track.Box.Array())
}

// snapshot returns detached copy of the track
func (track *Track) snapshot() Track {
	cp := *track
	cp.matched = false
	cp.motion = nil
	return cp
}
