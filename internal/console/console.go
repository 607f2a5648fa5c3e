// Package console implements the read-only debug HTTP server (spec
// component C10): health, Prometheus metrics, and key/changelog
// introspection endpoints, off by default. Grounded on the teacher's
// gorilla/mux + gorilla/handlers routing style (internal/server/server.go,
// deleted; see DESIGN.md), scaled down to a handful of GET-only routes.
package console

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mullenkamp/ebooklet/internal/ebooklet"
)

// Server is the optional read-only introspection HTTP server.
type Server struct {
	httpSrv *http.Server
	log     *logrus.Entry
}

// New builds a console server bound to addr. registry may be nil to skip
// the /metrics endpoint.
func New(addr string, db *ebooklet.Database, registry *prometheus.Registry) *Server {
	log := logrus.WithField("component", "console")
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/keys", keysHandler(db)).Methods(http.MethodGet)
	r.HandleFunc("/changes", changesHandler(db)).Methods(http.MethodGet)
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	handler := handlers.LoggingHandler(log.Logger.Writer(), r)

	return &Server{
		httpSrv: &http.Server{Addr: addr, Handler: handler},
		log:     log,
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func keysHandler(db *ebooklet.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := db.Keys()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(keys)
	}
}

func changesHandler(db *ebooklet.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changes := db.Changes()
		if changes == nil {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]string{})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(changes.IterChanges())
	}
}

// Start runs the console server until the context is canceled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.httpSrv.Addr).Info("starting debug console")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.httpSrv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
