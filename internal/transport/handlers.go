package transport

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/indutny/naughtd/internal/membership"
	"github.com/indutny/naughtd/internal/naughterr"
)

// allowRedirect parses x-naught-redirect, defaulting to true per
// spec.md §6.
func allowRedirect(r *http.Request) bool {
	v := r.Header.Get("x-naught-redirect")
	if v == "" {
		return true
	}
	return v != "false"
}

// handleInfo answers GET /_info.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.node.RecvInfo())
}

// handlePing answers POST /_ping.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var msg membership.Ping
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondError(w, naughterr.BadRequest("malformed ping body: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, s.node.RecvPing(msg))
}

// handleHead answers HEAD / — the peek probe, container id from Host.
func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	if s.node.Peek(r.Host) {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

// handleFetch answers GET /{sub_uri} — container id from Host.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	containerID := r.Host
	subURI := strings.TrimPrefix(r.URL.Path, "/")

	result, err := s.node.Fetch(r.Context(), containerID, subURI, allowRedirect(r))
	if err != nil {
		respondError(w, err)
		return
	}
	defer result.Body.Close()

	w.Header().Set("Content-Type", result.Mime)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, result.Body)
}

// handleStore answers PUT /_container.
func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, naughterr.BadRequest("reading request body: %v", err))
		return
	}

	result, err := s.node.Store(r.Context(), blob, allowRedirect(r))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"container": result.ContainerID,
		"uris":      result.PushedURIs,
	})
}

// handleContainers answers GET /_containers, the local-listing
// diagnostic supplemented from original_source/src/service.rs.
func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"ids": s.node.ContainerIDs()})
}

// handleEvents upgrades GET /_events to a websocket and registers the
// connection with the events hub, grounded on the teacher's (now
// deleted) WebSocketHandler.HandleMonitor shape.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("naughtd: events upgrade failed: %v", err)
		return
	}
	s.hub.Register(conn)
	go func() {
		defer s.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
