// Package httpapi exposes a read-only observability surface over a running
// session.Layer: a JSON session table snapshot and a server-sent-events
// stream of lifecycle transitions. It follows the same mux.Router-plus-
// http.Server shape the console-server daemon used for its own web server,
// trading its embedded HTMX UI for a small JSON/SSE API.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"cisessiond/internal/session"
)

// Server is the HTTP observability endpoint for one session.Layer.
type Server struct {
	port       int
	version    string
	layer      *session.Layer
	hub        *Hub
	router     *mux.Router
	httpServer *http.Server
}

// New builds a Server exposing layer's state on port, broadcasting Hub
// events on the SSE stream.
func New(port int, layer *session.Layer, hub *Hub, version string) *Server {
	s := &Server{
		port:    port,
		version: version,
		layer:   layer,
		hub:     hub,
		router:  mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", s.handleVersion).Methods("GET")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/stream", s.handleStream).Methods("GET")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("httpapi: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails to start.
func (s *Server) Run(ctx context.Context) error {
	s.router.Use(loggingMiddleware)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		log.Info("httpapi: context done, shutting down")
		s.httpServer.Shutdown(context.Background())
	}()

	log.Infof("httpapi: listening on port %d", s.port)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type versionInfo struct {
	Version string `json:"version"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(versionInfo{Version: s.version})
}

type sessionInfoJSON struct {
	SessionNb  uint16 `json:"sessionNb"`
	State      string `json:"state"`
	ResourceID uint32 `json:"resourceId"`
	SlotID     uint8  `json:"slotId"`
	ConnID     uint8  `json:"connId"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	snap := s.layer.Snapshot()
	result := make([]sessionInfoJSON, 0, len(snap))
	for _, info := range snap {
		result = append(result, sessionInfoJSON{
			SessionNb:  info.SessionNb,
			State:      info.State.String(),
			ResourceID: info.ResourceID,
			SlotID:     info.SlotID,
			ConnID:     info.ConnID,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %s\ndata: %s\n\n", ev.ID, payload)
			flusher.Flush()
		}
	}
}
