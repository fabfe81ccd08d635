// Package diag provides an optional, read-only HTTP diagnostics server
// exposing entity counts, tag registry size, and in-flight ParallelComm
// phase traces. Disabled unless config.DiagAddr is set. There is no
// mutation API; every route is a GET.
package diag

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/judajake/meshdb/logger"
)

// Reporter is implemented by meshdb.Interface; kept as a narrow
// interface here so this package does not import meshdb and create a
// cycle (meshdb could, in principle, want to start a diag server itself
// one day).
type Reporter interface {
	String() string
}

// Server is the diagnostics HTTP server.
type Server struct {
	addr     string
	reporter Reporter
	httpSrv  *http.Server
}

// New creates a diagnostics Server bound to addr, reporting on iface.
func New(addr string, reporter Reporter) *Server {
	return &Server{addr: addr, reporter: reporter}
}

// Start begins serving in a background goroutine. It is a no-op if addr
// is empty, matching config.DiagAddr's "" (disabled) default.
func (s *Server) Start() {
	if s.addr == "" {
		return
	}
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/traces", s.handleTraces).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:     s.addr,
		Handler:  router,
		ErrorLog: logger.SetHTTPServerErrorLog(),
	}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("diag server: %v", err)
		}
	}()
	logger.Info("diag server listening on %s", s.addr)
}

// Stop shuts down the diagnostics server, if running.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"summary": s.reporter.String()})
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(logger.GetActiveTraces())
}
