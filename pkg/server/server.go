// Package server exposes the administrative HTTP surface. It is an optional
// collaborator: the daemon runs fine without it, and it never touches the
// history repository except through the daemon's own operations, so
// everything serializes on the daemon's lock.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/histsync/histsync/pkg/daemon"
	"github.com/histsync/histsync/pkg/logbuf"
)

// Controller is the slice of the daemon the admin surface drives.
type Controller interface {
	Status() daemon.Status
	Init() error
	SyncOnce() error
	Pull() error
	Push() error
	Relink() error
	TrackEmpty() (int, error)
	SetTargets([]string) error
	SetExcludes([]string) error
}

// Server serves the admin API and status page under the /sync prefix.
type Server struct {
	controller Controller
}

// New returns a Server driving the given controller.
func New(controller Controller) *Server {
	return &Server{controller: controller}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/api/status", s.handleStatus)
	mux.HandleFunc("/sync/api/init", s.oneShot(s.controller.Init))
	mux.HandleFunc("/sync/api/sync-now", s.oneShot(s.controller.SyncOnce))
	mux.HandleFunc("/sync/api/pull", s.oneShot(s.controller.Pull))
	mux.HandleFunc("/sync/api/push", s.oneShot(s.controller.Push))
	mux.HandleFunc("/sync/api/relink", s.oneShot(s.controller.Relink))
	mux.HandleFunc("/sync/api/track-empty", s.handleTrackEmpty)
	mux.HandleFunc("/sync/api/targets", s.handleTargets)
	mux.HandleFunc("/sync/api/excludes", s.handleExcludes)
	mux.HandleFunc("/sync/api/log", s.handleLog)
	mux.HandleFunc("/sync/", s.handlePage)
	return mux
}

// ListenAndServe blocks serving the admin surface on the given port.
func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.WithField("addr", addr).Info("Admin surface listening")
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

// oneShot adapts a daemon operation into a POST handler that reports a
// success flag instead of raising through to the client.
func (s *Server) oneShot(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := op(); err != nil {
			log.WithError(err).Error("Admin operation failed")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	}
}

func (s *Server) handleTrackEmpty(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	written, err := s.controller.TrackEmpty()
	if err != nil {
		log.WithError(err).Error("Empty directory tracking failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "written": written})
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"targets": s.controller.Status().Targets,
		})
	case http.MethodPost:
		var payload struct {
			Targets []string `json:"targets"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"ok": false, "error": err.Error(),
			})
			return
		}
		if err := s.controller.SetTargets(payload.Targets); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleExcludes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"excludes": s.controller.Status().Excludes,
		})
	case http.MethodPost:
		var payload struct {
			Excludes []string `json:"excludes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"ok": false, "error": err.Error(),
			})
			return
		}
		if err := s.controller.SetExcludes(payload.Excludes); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": logbuf.Buffer.Recent(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"ok": false, "error": err.Error(),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"ok": false, "error": "method not allowed",
	})
}
