package service

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the default prometheus registry on /metrics.
type MetricsServer struct {
	server *http.Server
}

func NewMetricsServer() *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{server: &http.Server{Handler: mux}}
}

func (m *MetricsServer) Serve(l net.Listener) error {
	return m.server.Serve(l)
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}
