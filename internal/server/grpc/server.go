// Package grpc serves the standard gRPC health protocol for the metta
// server, backed by a database ping.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/metta/internal/logging"
	"github.com/dmitrijs2005/metta/internal/server/auth"
	"github.com/dmitrijs2005/metta/internal/server/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported to health checks besides "".
const ServiceName = "metta"

const (
	defaultProbeInterval = 10 * time.Second
	defaultStopTimeout   = 5 * time.Second
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type GRPCServer struct {
	address       string
	logger        logging.Logger
	health        *health.Server
	db            Pinger
	ids           auth.Identifier
	metrics       *metrics.Metrics
	probeInterval time.Duration
	stopTimeout   time.Duration
}

type Option func(*GRPCServer)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *GRPCServer) { s.metrics = m }
}

// WithIdentifier lets callers send an access token in the "authorization"
// metadata key; the resolved identity is attached to the request context.
func WithIdentifier(a auth.Identifier) Option {
	return func(s *GRPCServer) { s.ids = a }
}

func WithProbeInterval(d time.Duration) Option {
	return func(s *GRPCServer) { s.probeInterval = d }
}

// WithStopTimeout bounds how long shutdown waits for in-flight calls and
// open health watches before closing them.
func WithStopTimeout(d time.Duration) Option {
	return func(s *GRPCServer) { s.stopTimeout = d }
}

func NewGRPCServer(address string, l logging.Logger, db Pinger, opts ...Option) *GRPCServer {
	s := &GRPCServer{
		address:       address,
		logger:        l.With("module", "grpc_server"),
		health:        health.NewServer(),
		db:            db,
		probeInterval: defaultProbeInterval,
		stopTimeout:   defaultStopTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *GRPCServer) newServer() *grpc.Server {
	unary := []grpc.UnaryServerInterceptor{s.loggingInterceptor}
	stream := []grpc.StreamServerInterceptor{}
	if s.metrics != nil {
		unary = append(unary, s.metrics.UnaryServerInterceptor())
		stream = append(stream, s.metrics.StreamServerInterceptor())
	}
	if s.ids != nil {
		unary = append(unary, s.accessTokenInterceptor)
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(unary...), grpc.ChainStreamInterceptor(stream...))
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	s.probe(ctx)
	go s.watchHealth(ctx)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		s.stop(ctx, srv)
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}

// stop drains the server gracefully. Health Watch streams never end on
// their own, so after stopTimeout the remaining connections are closed.
func (s *GRPCServer) stop(ctx context.Context, srv *grpc.Server) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case <-stopped:
	case <-timer.C:
		s.logger.Warn(ctx, "graceful stop timed out, closing open streams", "timeout", s.stopTimeout.String())
		srv.Stop()
		<-stopped
	}
}
