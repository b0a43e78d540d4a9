package adminapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"xenoflow/internal/flowrec"
	"xenoflow/internal/mo"
)

// Server is the admin HTTP API: health/metrics endpoints, per-MO/engine
// dump endpoints, and the live flow tail websocket, ported from the
// teacher's internal/api.Server's router-plus-httpServer shape.
type Server struct {
	Tree *mo.Tree

	auth       *AuthMiddleware
	hub        *Hub
	httpServer *http.Server
}

// NewServer builds a Server bound to tree, with requests other than
// /healthz required to carry a bearer JWT signed with authSecret.
func NewServer(tree *mo.Tree, authSecret, addr string) *Server {
	s := &Server{
		Tree: tree,
		auth: NewAuthMiddleware(authSecret),
		hub:  NewHub(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.auth.Middleware)
	protected.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	protected.HandleFunc("/mo/{path}", s.handleMOShow).Methods(http.MethodGet)
	protected.HandleFunc("/mo/{path}/fwm/{name}", s.handleFWMDump).Methods(http.MethodGet)
	protected.HandleFunc("/mo/{path}/mavg/{name}", s.handleMAVGDump).Methods(http.MethodGet)
	protected.HandleFunc("/mo/{path}/clsf/{name}", s.handleCLSFDump).Methods(http.MethodGet)
	protected.HandleFunc("/ws/{path}", s.handleWS).Methods(http.MethodGet)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// Tap matches dispatch.Dispatcher's Tap field signature. Assigning it
// there broadcasts every matched flow to that MO path's subscribed
// websocket clients, backing the live flow tail. Rendering happens
// inline rather than pre-filtering by subscriber count, since a
// Monitoring Object's match rate is already bounded by its own filter.
func (s *Server) Tap(path string, r *flowrec.Record) {
	payload, err := json.Marshal(renderRecord(r))
	if err != nil {
		logrus.WithError(err).Warn("adminapi: failed to render flow for live tail")
		return
	}
	s.hub.Broadcast(path, payload)
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
