package server

import (
	"context"
	"fmt"
	"log/slog"
	"messaging-core/auth"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthServer_Ready_Follows_Reports(t *testing.T) {
	req := require.New(t)
	h := NewHealthServer(slog.Default())

	// Nothing reported yet
	ready, failing := h.Ready()
	req.False(ready)
	req.Empty(failing)

	h.Report(map[string]error{"store": nil, "search": fmt.Errorf("index locked"), "kafka": fmt.Errorf("no broker")})
	ready, failing = h.Ready()
	req.False(ready)
	req.Equal([]string{"kafka", "search"}, failing)

	h.Report(map[string]error{"store": nil})
	ready, failing = h.Ready()
	req.True(ready)
	req.Empty(failing)
}

func TestServer_Health_Check_Is_Public(t *testing.T) {
	req := require.New(t)
	h := NewHealthServer(slog.Default())
	s := NewServer(slog.Default(), h, auth.NewTokens("test-secret"))
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	go func() { _ = s.Serve(listener) }()
	defer s.Stop()

	conn, err := grpc.NewClient(listener.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	req.NoError(err)
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)
	ctx := context.Background()

	// Given no successful probe yet
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	req.NoError(err)
	req.Equal(grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	// When every dependency answers
	h.Report(map[string]error{"store": nil})

	// Then the service is serving, without any token
	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	req.NoError(err)
	req.Equal(grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
}
