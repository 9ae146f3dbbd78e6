// Package api is the shell's optional introspection HTTP surface
// (SPEC_FULL.md "Supplemented feature: optional introspection API"),
// modeled on canonical-pebble's internals/daemon + client split at a
// much smaller scale: a read-only snapshot endpoint, a live event
// stream, and a metrics endpoint. It never originates a job-control
// decision and is never required for interactive use.
package api

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/tomb.v2"

	"github.com/rajin-khan/cash/internal/jobs"
	"github.com/rajin-khan/cash/internal/logger"
	"github.com/rajin-khan/cash/internal/metrics"
)

// Server serves /jobs, /events and /metrics over addr.
type Server struct {
	table    *jobs.Table
	metrics  *metrics.Collector
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	http     *http.Server
	addr     string
	t        tomb.Tomb

	subsMu sync.Mutex
	subs   map[chan []byte]struct{}
}

// NewServer builds a Server bound to the given jobs.Table, exposing
// collector on /metrics through registry. The caller owns collector and
// is expected to also hand it to the Launcher and Reaper, so that
// /metrics reflects every launch/reap this process observes rather than
// a copy private to the API server.
func NewServer(addr string, table *jobs.Table, collector *metrics.Collector, registry *prometheus.Registry) *Server {
	s := &Server{
		table:    table,
		metrics:  collector,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[chan []byte]struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.http = &http.Server{Addr: addr, Handler: router}
	return s
}

// Metrics returns the Collector so the rest of the shell can record
// launch/reap events.
func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

// Addr returns the listener's actual bound address, valid after Start
// returns. Useful for logging (and for tests, which bind to ":0" to pick
// a free ephemeral port).
func (s *Server) Addr() string {
	return s.addr
}

// Start begins serving in the background. It returns once the listener
// is bound, so callers can report a startup failure synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.t.Go(func() error {
		err := s.http.Serve(ln)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	s.t.Go(func() error {
		<-s.t.Dying()
		return s.http.Close()
	})
	return nil
}

// Stop shuts the server down and waits for its goroutines to exit.
func (s *Server) Stop() error {
	s.t.Kill(nil)
	return s.t.Wait()
}

type jobView struct {
	JID         int    `json:"jid"`
	PGID        int    `json:"pgid"`
	State       string `json:"state"`
	CommandText string `json:"command_text"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	snapshot := s.table.Snapshot()
	views := make([]jobView, 0, len(snapshot))
	for _, j := range snapshot {
		views = append(views, jobView{JID: j.JID, PGID: j.PGID, State: string(j.State), CommandText: j.CommandText})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		logger.Debugf("api: encode /jobs response: %v", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debugf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan []byte, 16)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	defer func() {
		s.subsMu.Lock()
		delete(s.subs, ch)
		s.subsMu.Unlock()
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-s.t.Dying():
			return
		}
	}
}

// Write implements io.Writer so the Controller can hand this Server
// (wrapped in an io.MultiWriter alongside stdout) directly to
// jobs.DrainNotifications: every notification line drained at a prompt
// is fanned out to connected /events subscribers as a JSON event.
func (s *Server) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		event, err := json.Marshal(struct {
			Message string `json:"message"`
		}{Message: string(line)})
		if err != nil {
			continue
		}
		s.broadcast(event)
	}
	return len(p), nil
}

func (s *Server) broadcast(msg []byte) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber; drop rather than block the prompt loop.
		}
	}
}
