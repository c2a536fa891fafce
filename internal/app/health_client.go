package app

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthClient queries a running client's health socket.
type HealthClient struct {
	conn *grpc.ClientConn
	hc   healthpb.HealthClient
}

// DialHealth connects to the health service on socketPath.
func DialHealth(socketPath string) (*HealthClient, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial health socket: %w", err)
	}
	return &HealthClient{conn: conn, hc: healthpb.NewHealthClient(conn)}, nil
}

// Check returns the serving status of service ("" for the process).
func (c *HealthClient) Check(ctx context.Context, service string) (*healthpb.HealthCheckResponse, error) {
	return c.hc.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
}

// Close closes the gRPC connection.
func (c *HealthClient) Close() error {
	return c.conn.Close()
}
