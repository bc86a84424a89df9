package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/alliswell-zy/alliswell-can-uds/pkg/executor"
	"github.com/alliswell-zy/alliswell-can-uds/pkg/monitor"
)

// Server is the HTTP+WebSocket gateway over one Monitor and one Executor,
// modeled on the teacher's own pkg/gateway/http.GatewayServer request-
// routing shape, generalized from a CiA 309-5 command set to this module's
// monitor/executor operations.
type Server struct {
	monitor  *monitor.Monitor
	executor *executor.Executor
	router   *mux.Router
	ws       *frameBroadcaster
	logger   *log.Entry
}

// NewServer builds a gateway router. It registers itself as the monitor's
// frame observer so passing frames are broadcast to every connected
// WebSocket client.
func NewServer(m *monitor.Monitor, ex *executor.Executor) *Server {
	s := &Server{
		monitor:  m,
		executor: ex,
		router:   mux.NewRouter(),
		ws:       newFrameBroadcaster(),
		logger:   log.WithField("component", "gateway"),
	}
	m.RegisterObserver(s.ws.onFrame)

	s.router.HandleFunc("/monitor/stats", s.handleMonitorStats).Methods(http.MethodGet)
	s.router.HandleFunc("/monitor/frames", s.handleMonitorFrames).Methods(http.MethodGet)
	s.router.HandleFunc("/monitor/stream", s.ws.handle)
	s.router.HandleFunc("/executor/start", s.handleExecutorStart).Methods(http.MethodPost)
	s.router.HandleFunc("/executor/stop", s.handleExecutorStop).Methods(http.MethodPost)
	s.router.HandleFunc("/executor/status", s.handleExecutorStatus).Methods(http.MethodGet)
	return s
}

// Handler returns the gateway's http.Handler, for use with httptest or a
// custom server.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the gateway, blocking.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.WithField("addr", addr).Info("starting gateway")
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleMonitorStats(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.monitor.Stats())
}

func (s *Server) handleMonitorFrames(w http.ResponseWriter, r *http.Request) {
	count := queryInt(r, "count", 100)
	start := queryInt(r, "start", 0)
	frames := s.monitor.GetFrames(count, start)
	out := make([]wireFrame, 0, len(frames))
	for _, f := range frames {
		out = append(out, wireFrame{
			Timestamp: f.Ingested.Format("2006-01-02T15:04:05.000000Z07:00"),
			Direction: f.Direction.String(),
			Source:    f.Source,
			ID:        f.CAN.ID,
			DLC:       f.CAN.DLC,
			Data:      f.CAN.String(),
		})
	}
	writeOK(w, out)
}

func (s *Server) handleExecutorStart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	project, err := executor.Load(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.executor.Start(project); err != nil {
		status := http.StatusConflict
		if !errors.Is(err, executor.ErrBusy) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err)
		return
	}
	writeOK(w, envelope{OK: true})
}

func (s *Server) handleExecutorStop(w http.ResponseWriter, r *http.Request) {
	if err := s.executor.Stop(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeOK(w, envelope{OK: true})
}

func (s *Server) handleExecutorStatus(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]bool{"running": s.executor.IsRunning()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
