package oracle

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/LdDl/mot-overlay/mot"
)

// maxResponseSize caps the body read from the detection service.
const maxResponseSize = 4 << 20

// HTTPDetector posts encoded frames to a detection service endpoint.
type HTTPDetector struct {
	endpoint    string
	contentType string
	client      *http.Client
	log         logrus.FieldLogger
}

// NewHTTPDetector creates detector for the given endpoint.
// Zero timeout leaves the HTTP client without one.
func NewHTTPDetector(endpoint string, timeout time.Duration, log logrus.FieldLogger) *HTTPDetector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPDetector{
		endpoint:    endpoint,
		contentType: "image/jpeg",
		client:      &http.Client{Timeout: timeout},
		log:         log.WithField("component", "oracle"),
	}
}

// Detect sends the frame and parses the response.
// Non-2xx status, transport errors and unparsable bodies are returned as errors.
func (d *HTTPDetector) Detect(ctx context.Context, frame []byte) ([]mot.Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(frame))
	if err != nil {
		return nil, errors.Wrap(err, "Can't build detection request")
	}
	req.Header.Set("Content-Type", d.contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "Detection request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrap(err, "Can't read detection response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("detection service responded %d: %s", resp.StatusCode, truncate(body, 200))
	}

	detections, dropped, err := ParseDetections(body)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		d.log.WithFields(logrus.Fields{
			"dropped": dropped,
			"kept":    len(detections),
		}).Debug("Dropped malformed detections")
	}
	return detections, nil
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
