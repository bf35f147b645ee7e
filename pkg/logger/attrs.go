package logger

import (
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// ensureInstanceID keeps v, or derives "<host>-<8 hex>" so two processes on
// one host stay apart in aggregated logs.
func ensureInstanceID(v string) string {
	if v != "" {
		return v
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + "-" + uuid.NewString()[:8]
}

func commonAttr(cfg Config) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("instance_id", cfg.InstanceID),
		slog.Int("pid", os.Getpid()),
		slog.String("go", runtime.Version()),
		slog.Time("started_at", time.Now().UTC()),
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	return attrs
}
