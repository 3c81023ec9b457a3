package oracle

import (
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/LdDl/mot-overlay/mot"
)

// ErrMalformedPayload is returned when the response body is not a detection list at all.
var ErrMalformedPayload = errors.New("malformed detection payload")

// ParseDetections extracts detections from oracle response body.
//
// Accepted shapes:
//
//	[{"label": "cup", "box": [xmin, ymin, xmax, ymax]}, ...]
//	{"detections": [{"label": "cup", "box": [xmin, ymin, xmax, ymax]}, ...]}
//
// Items missing a label or a 4-number box are dropped one by one; dropped is their count.
// Coordinates are clamped to [0, 1]. An inverted box is dropped.
func ParseDetections(payload []byte) (detections []mot.Detection, dropped int, err error) {
	if !gjson.ValidBytes(payload) {
		return nil, 0, errors.Wrap(ErrMalformedPayload, "invalid JSON")
	}
	root := gjson.ParseBytes(payload)
	items := root
	if !root.IsArray() {
		items = root.Get("detections")
		if !items.IsArray() {
			return nil, 0, errors.Wrap(ErrMalformedPayload, "no detections array")
		}
	}

	detections = make([]mot.Detection, 0)
	items.ForEach(func(_, item gjson.Result) bool {
		detection, ok := parseItem(item)
		if !ok {
			dropped++
			return true
		}
		detections = append(detections, detection)
		return true
	})
	return detections, dropped, nil
}

func parseItem(item gjson.Result) (mot.Detection, bool) {
	if !item.IsObject() {
		return mot.Detection{}, false
	}
	label := item.Get("label")
	if label.Type != gjson.String || label.Str == "" {
		return mot.Detection{}, false
	}
	box := item.Get("box")
	if !box.IsArray() {
		return mot.Detection{}, false
	}
	coords := box.Array()
	if len(coords) != 4 {
		return mot.Detection{}, false
	}
	values := [4]float64{}
	for i, c := range coords {
		if c.Type != gjson.Number {
			return mot.Detection{}, false
		}
		values[i] = c.Num
	}
	b := mot.NewBox(values[0], values[1], values[2], values[3]).Clamp()
	if !b.Valid() {
		return mot.Detection{}, false
	}
	return mot.NewDetection(label.Str, b), true
}
