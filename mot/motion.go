package mot

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// Velocity is rate of change of the box per second: center shift (VX, VY) and size change (VW, VH).
// All components are in normalized units.
type Velocity struct {
	VX float64
	VY float64
	VW float64
	VH float64
}

// motion estimates box dynamics with 8-D Kalman filter.
// State vector: [cx, cy, w, h, vx, vy, vw, vh].
// It never alters matched box of the track: only velocity is taken from it.
type motion struct {
	dt      float64
	tracker *kalman_filter.KalmanBBox
}

func newMotion(box Box, dt float64) *motion {
	if dt <= 0 {
		dt = 1.0
	}
	center := box.Center()

	// Kalman filter props. Normalized coordinates are small, so are the noises
	uCx := 0.0
	uCy := 0.0
	uW := 0.0
	uH := 0.0
	stdDevA := 0.05
	stdDevMCx := 0.01
	stdDevMCy := 0.01
	stdDevMW := 0.01
	stdDevMH := 0.01
	kf := kalman_filter.NewKalmanBBox(
		dt, uCx, uCy, uW, uH,
		stdDevA, stdDevMCx, stdDevMCy, stdDevMW, stdDevMH,
		kalman_filter.WithStateBBox(center.X, center.Y, box.Width(), box.Height()),
	)
	return &motion{
		dt:      dt,
		tracker: kf,
	}
}

// observe executes prediction step and then corrects it with the measured box
func (m *motion) observe(box Box) error {
	m.tracker.Predict()
	center := box.Center()
	err := m.tracker.Update(center.X, center.Y, box.Width(), box.Height())
	if err != nil {
		return errors.Wrap(err, "Can't update motion filter")
	}
	return nil
}

func (m *motion) velocity() Velocity {
	vx, vy, vw, vh := m.tracker.GetVelocity()
	return Velocity{VX: vx, VY: vy, VW: vw, VH: vh}
}
