package server

import (
	"log/slog"
	"messaging-core/auth"
	"sort"
	"sync"

	grpc3 "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name probed by orchestrators,
// the empty name reports the process as a whole.
const ServiceName = "messaging.v1.Messaging"

// HealthServer publishes the readiness of the messaging core over the
// standard gRPC health protocol and to the HTTP /readyz probe.
type HealthServer struct {
	*health.Server
	log *slog.Logger

	mu       sync.RWMutex
	failures map[string]string
	reported bool
}

func NewHealthServer(log *slog.Logger) *HealthServer {
	h := &HealthServer{Server: health.NewServer(), log: log, failures: map[string]string{}}
	h.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return h
}

// Report records one round of dependency probes. A nil error means healthy.
func (h *HealthServer) Report(results map[string]error) {
	failures := make(map[string]string)
	for name, err := range results {
		if err != nil {
			failures[name] = err.Error()
		}
	}

	h.mu.Lock()
	wasReady := h.reported && len(h.failures) == 0
	h.failures, h.reported = failures, true
	h.mu.Unlock()

	ready := len(failures) == 0
	if ready {
		h.set(grpc_health_v1.HealthCheckResponse_SERVING)
	} else {
		h.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	if ready != wasReady {
		h.log.Info("Readiness changed", "ready", ready, "failures", failures)
	}
}

// Ready returns false until the first successful report, and the names of
// failing dependencies in order.
func (h *HealthServer) Ready() (bool, []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.failures))
	for name := range h.failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return h.reported && len(names) == 0, names
}

func (h *HealthServer) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.SetServingStatus("", status)
	h.SetServingStatus(ServiceName, status)
}

// NewServer builds the gRPC server of the process. Health checks are public,
// anything registered later requires a bearer token.
func NewServer(log *slog.Logger, h *HealthServer, tokens *auth.Tokens) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc3.UnaryLoggingInterceptor(log),
			auth.UnaryInterceptor(tokens, grpc_health_v1.Health_Check_FullMethodName),
		))
	grpc_health_v1.RegisterHealthServer(s, h.Server)
	return s
}
