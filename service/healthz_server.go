package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// HealthzServer serves liveness and the status of the most recent run.
type HealthzServer struct {
	log    log.Logger
	status *RunStatus
	server *http.Server
}

func NewHealthzServer(logger log.Logger, status *RunStatus) *HealthzServer {
	if status == nil {
		status = NewRunStatus()
	}
	h := &HealthzServer{log: logger, status: status}
	h.server = &http.Server{Handler: h.Router()}
	return h
}

// Router returns the HTTP routes of the server.
func (h *HealthzServer) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Handle).Methods(http.MethodGet)
	r.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/status/summary", h.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/config", h.handleConfig).Methods(http.MethodGet)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(r)
}

// Serve blocks serving on l until Shutdown is called.
func (h *HealthzServer) Serve(l net.Listener) error {
	return h.server.Serve(l)
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}

func (h *HealthzServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status.Response())
}

func (h *HealthzServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	last := h.status.Last()
	if last == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no completed run"})
		return
	}
	h.writeJSON(w, http.StatusOK, last)
}

func (h *HealthzServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	snap := h.status.Config()
	if snap == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no configuration recorded"})
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *HealthzServer) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		h.log.Error("Failed to marshal response", "error", err)
		code = http.StatusInternalServerError
		body = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		h.log.Error("Failed to write response", "error", err)
	}
}
