package overlay

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/LdDl/mot-overlay/mot"
)

const (
	messageTracks          = "tracks"
	messageSurface         = "surface"
	messageVisibility      = "visibility"
	messageSnapshotRequest = "snapshot_request"
)

type rectPayload struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// velocityPayload is box change per second in normalized units,
// so a renderer can move boxes between detection passes.
type velocityPayload struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	VW float64 `json:"vw"`
	VH float64 `json:"vh"`
}

type trackPayload struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Color    string          `json:"color"`
	Box      [4]float64      `json:"box"`
	Velocity velocityPayload `json:"velocity"`
	Rect     *rectPayload    `json:"rect,omitempty"`
}

type tracksMessage struct {
	Type   string         `json:"type"`
	At     string         `json:"at"`
	Tracks []trackPayload `json:"tracks"`
}

// newTracksMessage renders tracks for one client. Rects are filled only when
// the client has reported its surface.
func newTracksMessage(at time.Time, tracks []mot.Track, surface *mot.Rectangle) tracksMessage {
	msg := tracksMessage{
		Type:   messageTracks,
		At:     at.UTC().Format(time.RFC3339Nano),
		Tracks: make([]trackPayload, 0, len(tracks)),
	}
	var rects []mot.Rectangle
	if surface != nil {
		rects = mot.ProjectTracks(tracks, *surface)
	}
	for i, track := range tracks {
		v := track.Velocity
		item := trackPayload{
			ID:       track.ID,
			Label:    track.Label,
			Color:    track.Color,
			Box:      track.Box.Array(),
			Velocity: velocityPayload{VX: v.VX, VY: v.VY, VW: v.VW, VH: v.VH},
		}
		if rects != nil {
			rect := rects[i]
			item.Rect = &rectPayload{
				Left:   rect.X,
				Top:    rect.Y,
				Width:  rect.Width,
				Height: rect.Height,
			}
		}
		msg.Tracks = append(msg.Tracks, item)
	}
	return msg
}

// clientMessage is what a browser may send over the socket
type clientMessage struct {
	Type    string
	Surface mot.Rectangle
	Hidden  bool
}

func parseClientMessage(payload []byte) (clientMessage, bool) {
	if !gjson.ValidBytes(payload) {
		return clientMessage{}, false
	}
	parsed := gjson.ParseBytes(payload)
	kind := parsed.Get("type")
	if kind.Type != gjson.String {
		return clientMessage{}, false
	}
	msg := clientMessage{Type: kind.String()}
	switch msg.Type {
	case messageSurface:
		msg.Surface = mot.NewRect(
			parsed.Get("left").Float(),
			parsed.Get("top").Float(),
			parsed.Get("width").Float(),
			parsed.Get("height").Float(),
		)
		if msg.Surface.Width <= 0 || msg.Surface.Height <= 0 {
			return clientMessage{}, false
		}
	case messageVisibility:
		msg.Hidden = parsed.Get("hidden").Bool()
	case messageSnapshotRequest:
	default:
		return clientMessage{}, false
	}
	return msg, true
}
