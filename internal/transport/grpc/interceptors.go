package grpcx

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor logs, recovers panics, maps context errors to status
// codes and applies defaultTimeout to calls that arrive without a deadline.
func UnaryServerInterceptor(defaultTimeout time.Duration) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		if _, ok := ctx.Deadline(); !ok && defaultTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
			defer cancel()
		}

		defer func() {
			if r := recover(); r != nil {
				slog.Error("grpc.unary panic",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
			logCall("grpc.unary", info.FullMethod, start, err)
		}()

		resp, err = handler(ctx, req)
		return resp, toStatus(err)
	}
}

// StreamServerInterceptor is the streaming counterpart; health Watch goes
// through it.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		start := time.Now()

		defer func() {
			if r := recover(); r != nil {
				slog.Error("grpc.stream panic",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
			logCall("grpc.stream", info.FullMethod, start, err)
		}()

		return toStatus(handler(srv, ss))
	}
}

func logCall(msg, method string, start time.Time, err error) {
	level := slog.LevelInfo
	if err != nil && status.Code(err) != codes.Canceled {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, msg,
		"method", method,
		"dur_ms", time.Since(start).Milliseconds(),
		"code", status.Code(err).String(),
		"err", errString(err))
}

// toStatus leaves gRPC status errors untouched. Only health and reflection are
// registered, so context errors are the only plain errors that reach it.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return status.Error(code, err.Error())
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
