// Package oracle is the client side of the external detection service:
// one encoded frame in, a list of labeled normalized boxes out.
package oracle

import (
	"context"

	"github.com/LdDl/mot-overlay/mot"
)

// Detector turns one encoded frame into raw detections.
// Order of returned detections carries no meaning.
// Implementations do not retry: a failed call is simply a cycle without detections.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]mot.Detection, error)
}

// DetectorFunc adapts an ordinary function to Detector.
type DetectorFunc func(ctx context.Context, frame []byte) ([]mot.Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, frame []byte) ([]mot.Detection, error) {
	return f(ctx, frame)
}
