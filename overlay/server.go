// Package overlay pushes track snapshots to browsers over a websocket.
// Every client reports its own video surface, so boxes are projected per client.
package overlay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/LdDl/mot-overlay/mot"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// SnapshotFunc returns the current live tracks, used to answer snapshot requests
type SnapshotFunc func() (time.Time, []mot.Track)

type client struct {
	writeMu sync.Mutex
	surface *mot.Rectangle
	hidden  bool
}

// snapshot is one published track set waiting for broadcast
type snapshot struct {
	at     time.Time
	tracks []mot.Track
}

type Server struct {
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]*client
	mu         sync.Mutex
	snapshotFn SnapshotFunc
	registry   *prometheus.Registry
	log        logrus.FieldLogger

	// Single slot: a newer snapshot replaces one not yet broadcast
	outbox    chan snapshot
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates overlay server and starts its broadcast routine; call Close to stop it.
// When registry is not nil the server registers its client gauge there and exposes
// the registry on /metrics.
func NewServer(snapshotFn SnapshotFunc, registry *prometheus.Registry, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	srv := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*websocket.Conn]*client),
		snapshotFn: snapshotFn,
		registry:   registry,
		log:        log.WithField("component", "overlay"),
		outbox:     make(chan snapshot, 1),
		done:       make(chan struct{}),
	}
	go srv.broadcast()
	if registry != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "overlay_ws_clients",
				Help: "Number of connected overlay clients.",
			},
			func() float64 { return float64(srv.ClientCount()) },
		))
	}
	return srv
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.Close()
	}()

	s.log.WithField("addr", addr).Info("Overlay server started")
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "Can't serve overlay")
}

// Visible reports whether at least one connected client is showing the video.
func (s *Server) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if !c.hidden {
			return true
		}
	}
	return false
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Publish queues snapshot for every client and returns at once.
// Only the latest snapshot matters: one that was not sent yet is replaced.
func (s *Server) Publish(at time.Time, tracks []mot.Track) {
	next := snapshot{at: at, tracks: tracks}
	for {
		select {
		case <-s.done:
			return
		case s.outbox <- next:
			return
		default:
		}
		// Slot is taken: drop the older snapshot and retry
		select {
		case <-s.outbox:
		default:
		}
	}
}

// Close stops broadcasting and disconnects all clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeAll()
	})
}

type recipient struct {
	conn    *websocket.Conn
	client  *client
	surface *mot.Rectangle
}

func (s *Server) broadcast() {
	for {
		select {
		case <-s.done:
			return
		case snap := <-s.outbox:
			s.send(snap)
		}
	}
}

// send writes snapshot to every client without holding the clients lock,
// so a slow reader does not block Visible or new connections.
func (s *Server) send(snap snapshot) {
	s.mu.Lock()
	recipients := make([]recipient, 0, len(s.clients))
	for conn, c := range s.clients {
		recipients = append(recipients, recipient{conn: conn, client: c, surface: c.surface})
	}
	s.mu.Unlock()

	var stale []*websocket.Conn
	for _, r := range recipients {
		msg := newTracksMessage(snap.at, snap.tracks, r.surface)
		if err := s.writeJSON(r.conn, r.client, msg); err != nil {
			stale = append(stale, r.conn)
		}
	}
	for _, conn := range stale {
		s.log.WithField("remote", conn.RemoteAddr().String()).Debug("Dropping stale client")
		s.removeClient(conn)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Can't upgrade connection")
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &client{}
	s.mu.Lock()
	s.clients[conn] = c
	s.mu.Unlock()
	s.log.WithField("remote", conn.RemoteAddr().String()).Info("Client connected")

	// Current state right away, so a fresh page does not wait for the next pass
	s.sendSnapshot(conn, c)

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, c, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			msg, ok := parseClientMessage(payload)
			if !ok {
				continue
			}
			s.handleMessage(conn, c, msg)
		}
	}()
}

func (s *Server) handleMessage(conn *websocket.Conn, c *client, msg clientMessage) {
	switch msg.Type {
	case messageSurface:
		surface := msg.Surface
		s.mu.Lock()
		c.surface = &surface
		s.mu.Unlock()
	case messageVisibility:
		s.mu.Lock()
		c.hidden = msg.Hidden
		s.mu.Unlock()
		s.log.WithField("hidden", msg.Hidden).Debug("Client visibility changed")
	case messageSnapshotRequest:
		s.sendSnapshot(conn, c)
	}
}

func (s *Server) sendSnapshot(conn *websocket.Conn, c *client) {
	if s.snapshotFn == nil {
		return
	}
	at, tracks := s.snapshotFn()
	s.mu.Lock()
	msg := newTracksMessage(at, tracks, c.surface)
	s.mu.Unlock()
	_ = s.writeJSON(conn, c, msg)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	_, known := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
	if known {
		s.log.WithField("remote", conn.RemoteAddr().String()).Info("Client disconnected")
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		s.removeClient(conn)
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, c *client, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "Can't marshal message")
	}
	return s.writeMessage(conn, c, websocket.TextMessage, data)
}

func (s *Server) writeMessage(conn *websocket.Conn, c *client, messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
