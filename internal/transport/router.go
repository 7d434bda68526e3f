// Package transport is the HTTP collaborator spec.md §1 scopes out of
// the core: request routing, Host-header container-id extraction, and
// the bearer-token check. Grounded on cmd/dplaned/main.go's
// mux.NewRouter() + r.HandleFunc(...).Methods(...) wiring.
package transport

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/indutny/naughtd/internal/config"
	"github.com/indutny/naughtd/internal/events"
	"github.com/indutny/naughtd/internal/naughterr"
	"github.com/indutny/naughtd/internal/node"
)

var errNotAuthorized = naughterr.NotAuthorized()

// Server wires internal/node.Node and internal/events.Hub onto the five
// routes of spec.md §6, plus the supplemented /_containers diagnostic
// and the /_events websocket.
type Server struct {
	node     *node.Node
	hub      *events.Hub
	bearer   string
	upgrader websocket.Upgrader
}

// New builds the router. cfg supplies the bearer token.
func New(n *node.Node, hub *events.Hub, cfg *config.Config) http.Handler {
	s := &Server{
		node:   n,
		hub:    hub,
		bearer: cfg.BearerToken(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/_info", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/_ping", s.requireBearer(s.handlePing)).Methods(http.MethodPost)
	r.HandleFunc("/_container", s.requireBearer(s.handleStore)).Methods(http.MethodPut)
	r.HandleFunc("/_containers", s.requireBearer(s.handleContainers)).Methods(http.MethodGet)
	r.HandleFunc("/_events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleHead).Methods(http.MethodHead)

	// Every other GET is a container file fetch keyed by the Host
	// header; must be registered last so it never shadows the named
	// routes above.
	r.PathPrefix("/").HandlerFunc(s.handleFetch).Methods(http.MethodGet)

	return r
}

// loggingMiddleware is grounded on cmd/dplaned/main.go's
// loggingMiddleware, unchanged in shape.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
	})
}
