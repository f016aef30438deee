package grpc

import (
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer exposes grpc.health.v1 with one service per symbol. A symbol is SERVING only
// while its position snapshot is known.
type HealthServer struct {
	server *health.Server

	mu    sync.RWMutex
	known map[string]bool
}

func NewHealthServer(symbols []string) *HealthServer {
	h := &HealthServer{
		server: health.NewServer(),
		known:  make(map[string]bool, len(symbols)),
	}

	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		h.known[symbol] = false
		h.server.SetServingStatus(symbol, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	h.server.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return h
}

func (h *HealthServer) Register(grpcServer *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcServer, h.server)
}

// ObservePosition has the shape of position.StateObserver.
func (h *HealthServer) ObservePosition(symbol string, known bool) {
	symbol = strings.ToUpper(symbol)

	h.mu.Lock()
	previous, tracked := h.known[symbol]
	h.known[symbol] = known
	h.mu.Unlock()

	if tracked && previous == known {
		return
	}

	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if known {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(symbol, status)
}

// Ready reports whether every tracked symbol has a known position.
func (h *HealthServer) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, known := range h.known {
		if !known {
			return false
		}
	}

	return true
}

func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}
