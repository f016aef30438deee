package grpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func check(t *testing.T, h *HealthServer, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()

	resp, err := h.server.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthServer(t *testing.T) {
	h := NewHealthServer([]string{"btcusdt", "ETHUSDT"})

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, h, ""))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, h, "BTCUSDT"))
	assert.False(t, h.Ready())

	h.ObservePosition("BTCUSDT", true)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, h, "BTCUSDT"))
	assert.False(t, h.Ready())

	h.ObservePosition("ethusdt", true)
	assert.True(t, h.Ready())

	h.ObservePosition("BTCUSDT", false)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, h, "BTCUSDT"))
	assert.False(t, h.Ready())
}

func TestHealthServer_UnknownService(t *testing.T) {
	h := NewHealthServer([]string{"BTCUSDT"})

	_, err := h.server.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "SOLUSDT"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHealthServer_Shutdown(t *testing.T) {
	h := NewHealthServer([]string{"BTCUSDT"})
	h.ObservePosition("BTCUSDT", true)

	h.Shutdown()
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, h, "BTCUSDT"))
}
