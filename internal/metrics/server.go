package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"trv2relay/internal/logger"
)

// StatusFunc returns the value rendered as JSON on /status.
type StatusFunc func() interface{}

// Server exposes /metrics, /status and /healthz.
type Server struct {
	log    logger.Logger
	srv    *http.Server
	router *mux.Router
}

// NewServer конструктор.
func NewServer(log logger.Logger, addr string, m *Metrics, status StatusFunc) *Server {
	router := mux.NewRouter()
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)

	access := log.With(logger.Fields{"module": "http"}).WriterLevel(logrus.DebugLevel)

	return &Server{
		log:    log,
		router: router,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handlers.LoggingHandler(access, router),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// HandleFunc adds a route to the server. Call before Start.
func (s *Server) HandleFunc(path string, f http.HandlerFunc, methods ...string) {
	route := s.router.HandleFunc(path, f)
	if len(methods) > 0 {
		route.Methods(methods...)
	}
}

// Handler returns the routed handler without access logging.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background until Stop is called.
func (s *Server) Start() {
	go func() {
		s.log.With(logger.Fields{"module": "http"}).Infof("listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.With(logger.Fields{"module": "http"}).Errorf("server stopped: %v", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
