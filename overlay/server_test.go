package overlay

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LdDl/mot-overlay/mot"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func liveTracks(t *testing.T) []mot.Track {
	t.Helper()
	tracker := mot.NewDefaultGreedyIoUTracker()
	tracks, err := tracker.MatchObjects(t0, []mot.Detection{
		mot.NewDetection("person", mot.NewBox(0.1, 0.1, 0.3, 0.5)),
	})
	require.NoError(t, err)
	return tracks
}

func newTestServer(t *testing.T, snapshotFn SnapshotFunc) (*Server, *httptest.Server) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	srv := NewServer(snapshotFn, prometheus.NewRegistry(), logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)
	return srv, ts
}

// dial connects and consumes the greeting snapshot, so the client is registered on return
func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	readTracks(t, conn)
	return conn
}

func readTracks(t *testing.T, conn *websocket.Conn) tracksMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg tracksMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, messageTracks, msg.Type)
	return msg
}

// roundTrip sends a message followed by a snapshot request and returns the reply.
// Client messages are handled in order, so the reply reflects the first one.
func roundTrip(t *testing.T, conn *websocket.Conn, payload string) tracksMessage {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"snapshot_request"}`)))
	return readTracks(t, conn)
}

func TestPublishProjectsPerClient(t *testing.T) {
	tracks := liveTracks(t)
	srv, ts := newTestServer(t, func() (time.Time, []mot.Track) { return t0, tracks })

	withSurface := dial(t, ts)
	plain := dial(t, ts)

	reply := roundTrip(t, withSurface, `{"type":"surface","left":10,"top":20,"width":200,"height":100}`)
	require.Len(t, reply.Tracks, 1)
	require.NotNil(t, reply.Tracks[0].Rect)

	tracks[0].Velocity = mot.Velocity{VX: 0.02, VY: -0.01, VW: 0.005, VH: 0}
	srv.Publish(t0.Add(time.Second), tracks)

	msg := readTracks(t, withSurface)
	assert.Equal(t, "2024-05-01T12:00:01Z", msg.At)
	require.Len(t, msg.Tracks, 1)
	item := msg.Tracks[0]
	assert.Equal(t, "person-1", item.ID)
	assert.Equal(t, "person", item.Label)
	assert.Equal(t, mot.DefaultPalette[0], item.Color)
	assert.Equal(t, [4]float64{0.1, 0.1, 0.3, 0.5}, item.Box)
	assert.Equal(t, velocityPayload{VX: 0.02, VY: -0.01, VW: 0.005, VH: 0}, item.Velocity)
	require.NotNil(t, item.Rect)
	assert.InDelta(t, 30.0, item.Rect.Left, 1e-9)
	assert.InDelta(t, 30.0, item.Rect.Top, 1e-9)
	assert.InDelta(t, 40.0, item.Rect.Width, 1e-9)
	assert.InDelta(t, 40.0, item.Rect.Height, 1e-9)

	msg = readTracks(t, plain)
	require.Len(t, msg.Tracks, 1)
	assert.Nil(t, msg.Tracks[0].Rect)
}

func TestPublishEmptySnapshot(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Without snapshot source there is no greeting
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	srv.Publish(t0, nil)
	msg := readTracks(t, conn)
	assert.NotNil(t, msg.Tracks)
	assert.Empty(t, msg.Tracks)
}

func TestPublishKeepsLatest(t *testing.T) {
	srv, ts := newTestServer(t, func() (time.Time, []mot.Track) { return t0, nil })
	conn := dial(t, ts)

	tracks := liveTracks(t)
	for i := 1; i <= 20; i++ {
		srv.Publish(t0.Add(time.Duration(i)*time.Second), tracks)
	}
	// Intermediate snapshots may be skipped, the last one always arrives
	last := "2024-05-01T12:00:20Z"
	for {
		msg := readTracks(t, conn)
		if msg.At == last {
			require.Len(t, msg.Tracks, 1)
			break
		}
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	srv, ts := newTestServer(t, func() (time.Time, []mot.Track) { return t0, nil })
	// Connected but never reads again
	dial(t, ts)

	tracks := make([]mot.Track, 5000)
	for i := range tracks {
		tracks[i] = mot.Track{
			ID:    fmt.Sprintf("person-%d", i+1),
			Label: "person",
			Color: mot.DefaultPalette[0],
			Box:   mot.NewBox(0.1, 0.1, 0.3, 0.5),
		}
	}

	done := make(chan bool, 1)
	go func() {
		for i := 0; i < 50; i++ {
			srv.Publish(t0.Add(time.Duration(i)*time.Second), tracks)
		}
		done <- srv.Visible()
	}()
	select {
	case visible := <-done:
		assert.True(t, visible)
	case <-time.After(2 * time.Second):
		t.Fatal("Publish or Visible blocked by a client which does not read")
	}
}

func TestPublishAfterClose(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.Close()
	srv.Publish(t0, liveTracks(t))
	assert.Equal(t, 0, srv.ClientCount())
}

func TestVisible(t *testing.T) {
	srv, ts := newTestServer(t, func() (time.Time, []mot.Track) { return t0, nil })
	assert.False(t, srv.Visible())

	first := dial(t, ts)
	assert.True(t, srv.Visible())

	roundTrip(t, first, `{"type":"visibility","hidden":true}`)
	assert.False(t, srv.Visible())

	second := dial(t, ts)
	assert.True(t, srv.Visible())
	roundTrip(t, second, `{"type":"visibility","hidden":true}`)
	assert.False(t, srv.Visible())

	roundTrip(t, first, `{"type":"visibility","hidden":false}`)
	assert.True(t, srv.Visible())

	require.NoError(t, first.Close())
	assert.Eventually(t, func() bool { return srv.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, srv.Visible())
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "overlay_ws_clients 0")
}

func TestParseClientMessage(t *testing.T) {
	cases := map[string]struct {
		payload string
		ok      bool
		want    clientMessage
	}{
		"surface": {
			`{"type":"surface","left":1,"top":2,"width":300,"height":200}`, true,
			clientMessage{Type: messageSurface, Surface: mot.NewRect(1, 2, 300, 200)},
		},
		"hidden":          {`{"type":"visibility","hidden":true}`, true, clientMessage{Type: messageVisibility, Hidden: true}},
		"shown":           {`{"type":"visibility","hidden":false}`, true, clientMessage{Type: messageVisibility}},
		"snapshot":        {`{"type":"snapshot_request"}`, true, clientMessage{Type: messageSnapshotRequest}},
		"zero surface":    {`{"type":"surface","left":0,"top":0,"width":0,"height":200}`, false, clientMessage{}},
		"unknown type":    {`{"type":"reboot"}`, false, clientMessage{}},
		"type not string": {`{"type":5}`, false, clientMessage{}},
		"garbage":         {`{"type":`, false, clientMessage{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := parseClientMessage([]byte(tc.payload))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
