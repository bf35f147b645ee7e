// Package grpcx exposes the admin gRPC surface: the standard health service
// with one entry per execution toolchain, plus server reflection.
package grpcx

import (
	"context"
	"net"
	"time"

	"github.com/cwrk-planet/code-room/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const servicePrefix = "coderoom.executor."

// Toolchains reports which languages can currently be executed.
type Toolchains interface {
	Available() map[domain.Language]bool
}

type Options struct {
	DefaultTimeout time.Duration
}

type Server struct {
	srv    *grpc.Server
	health *health.Server
	tools  Toolchains
}

func NewServer(tools Toolchains, opts Options) *Server {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 10 * time.Second
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(opts.DefaultTimeout)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	s := &Server{srv: srv, health: hs, tools: tools}
	s.Refresh()
	return s
}

// ServiceName is the health service name reported for lang.
func ServiceName(lang domain.Language) string {
	return servicePrefix + string(lang)
}

// Refresh re-checks the toolchains. The overall status stays SERVING: a
// missing toolchain only degrades its own language.
func (s *Server) Refresh() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if s.tools == nil {
		return
	}
	for lang, ok := range s.tools.Available() {
		st := healthpb.HealthCheckResponse_SERVING
		if !ok {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(ServiceName(lang), st)
	}
}

// Watch refreshes toolchain statuses every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Refresh()
		}
	}
}

func (s *Server) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

// Stop flips every status to NOT_SERVING and drains calls until ctx is done.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.srv.Stop()
	}
}
