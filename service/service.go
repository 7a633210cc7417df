package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-behave/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = 8080

	MetricsHost = "0.0.0.0"
	MetricsPort = 7300
)

// Config holds the listen addresses of the service. A port of -1 disables
// the corresponding server; 0 picks a free port.
type Config struct {
	Log         log.Logger
	HealthzHost string
	HealthzPort int
	MetricsHost string
	MetricsPort int
	Status      *RunStatus
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	log         log.Logger
	cfg         Config
	healthzAddr net.Addr
	metricsAddr net.Addr
	wg          sync.WaitGroup
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.HealthzHost == "" {
		cfg.HealthzHost = HealthzHost
	}
	if cfg.MetricsHost == "" {
		cfg.MetricsHost = MetricsHost
	}
	logger := cfg.Log.New("component", "service")
	s := &Service{
		log: logger,
		cfg: cfg,
	}
	if cfg.HealthzPort >= 0 {
		s.Healthz = NewHealthzServer(logger, cfg.Status)
	}
	if cfg.MetricsPort >= 0 {
		s.Metrics = NewMetricsServer()
	}
	return s
}

// Start binds the listeners and serves in the background. Binding errors are
// returned; serving errors are logged.
func (s *Service) Start(ctx context.Context) error {
	s.log.Info("Service starting")

	if s.Healthz != nil {
		l, err := listen(s.cfg.HealthzHost, s.cfg.HealthzPort)
		if err != nil {
			return fmt.Errorf("failed to bind healthz server: %w", err)
		}
		s.healthzAddr = l.Addr()
		s.serve("healthz", l, s.Healthz.Serve)
	}

	if s.Metrics != nil {
		l, err := listen(s.cfg.MetricsHost, s.cfg.MetricsPort)
		if err != nil {
			s.shutdownServers(ctx)
			return fmt.Errorf("failed to bind metrics server: %w", err)
		}
		s.metricsAddr = l.Addr()
		s.serve("metrics", l, s.Metrics.Serve)
	}

	s.log.Info("Service started")
	return nil
}

func (s *Service) serve(name string, l net.Listener, fn func(net.Listener) error) {
	s.log.Info("Starting server", "server", name, "addr", l.Addr())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Server failed", "server", name, "err", err)
			metrics.RecordErrorDetails("error serving "+name, err)
		}
	}()
}

// HealthzAddr returns the bound healthz address, or nil when not running.
func (s *Service) HealthzAddr() net.Addr { return s.healthzAddr }

// MetricsAddr returns the bound metrics address, or nil when not running.
func (s *Service) MetricsAddr() net.Addr { return s.metricsAddr }

func (s *Service) Shutdown(ctx context.Context) {
	s.log.Info("Service shutting down")
	s.shutdownServers(ctx)
	s.wg.Wait()
	s.log.Info("Service stopped")
}

func (s *Service) shutdownServers(ctx context.Context) {
	if s.Healthz != nil && s.healthzAddr != nil {
		_ = s.Healthz.Shutdown(ctx)
		s.log.Info("Healthz stopped")
	}
	if s.Metrics != nil && s.metricsAddr != nil {
		_ = s.Metrics.Shutdown(ctx)
		s.log.Info("Metrics stopped")
	}
}

func listen(host string, port int) (net.Listener, error) {
	return net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}
