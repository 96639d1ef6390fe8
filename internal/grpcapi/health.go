// Package grpcapi exposes the standard gRPC health service so orchestrators
// can tell whether the broker transport is delivering events.
package grpcapi

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// IngestService is the health service name reported for event ingestion.
const IngestService = "keybox.v1.Ingest"

type Server struct {
	addr   string
	logger logrus.FieldLogger
	grpc   *grpc.Server
	health *health.Server
}

func NewServer(addr string, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(IngestService, healthpb.HealthCheckResponse_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		addr:   addr,
		logger: logger.WithField("component", "grpc"),
		grpc:   gs,
		health: hs,
	}
}

// SetIngestReady flips the ingest service status.  It is wired to the MQTT
// connection state.
func (s *Server) SetIngestReady(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(IngestService, status)
	s.logger.WithField("status", status.String()).Info("ingest health changed")
}

// Serve blocks until the listener fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.WithField("addr", s.addr).Info("grpc listening")
	return s.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs until ctx
// expires.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}
