package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"esphub/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router with /metrics, /healthz and /readyz mounted and the
// logging and request-metrics middleware installed.
func New(ready ...ReadyzCheck) *Server {
	m := mux.NewRouter()
	m.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	m.HandleFunc("/healthz", Healthz()).Methods(http.MethodGet)
	m.HandleFunc("/readyz", Readyz(2*time.Second, ready...)).Methods(http.MethodGet)
	m.Use(Logging, Metrics(observability.APIRequests))
	return &Server{Mux: m}
}
