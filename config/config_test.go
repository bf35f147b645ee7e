package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_PATH", "HTTP_ADDR", "PORT", "GRPC_ADDR", "APP_ENV", "LOG_LEVEL",
		"POSTGRES_DSN", "REDIS_ADDR", "GEMINI_API_KEY", "EXECUTOR_WORK_DIR",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", writeConfig(t, `
http:
  addr: ":8080"
  allowedOrigins: ["http://localhost:5173"]
grpc:
  addr: ":9090"
logging:
  backend: zap
  level: debug
executor:
  maxConcurrent: 4
rooms:
  defaultLanguage: python
  evictEmpty: true
limits:
  runsPerWindow: 3
  runWindow: 30s
`))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.HTTP.AllowedOrigins)
	require.Equal(t, ":9090", cfg.GRPC.Addr)
	require.Equal(t, "zap", cfg.Logging.Backend)
	require.EqualValues(t, 4, cfg.Executor.MaxConcurrent)
	require.Equal(t, "python", cfg.Rooms.DefaultLanguage)
	require.True(t, cfg.Rooms.EvictEmpty)
	require.Equal(t, 3, cfg.Limits.RunsPerWindow)
	require.Equal(t, 30*time.Second, cfg.Limits.RunWindow)

	// defaults fill the rest
	require.Equal(t, "// start code here", cfg.Rooms.DefaultCode)
	require.Equal(t, "code-room", cfg.Logging.Service)
	require.Equal(t, "gemini-2.5-flash", cfg.Assist.Model)
	require.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
}

func TestLoadConfig_MissingDefaultFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":5000", cfg.HTTP.Addr)
	require.Empty(t, cfg.GRPC.Addr)
	require.Empty(t, cfg.Postgres.DSN)
	require.Equal(t, "javascript", cfg.Rooms.DefaultLanguage)
	require.False(t, cfg.Rooms.EvictEmpty)
	require.Equal(t, "dev", cfg.Logging.Env)
	require.Zero(t, cfg.Limits.RunsPerWindow, "run limiter is off by default")
	require.Equal(t, time.Minute, cfg.Limits.RunWindow)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_EnvOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", writeConfig(t, `
http:
  addr: ":8080"
postgres:
  dsn: "postgres://file"
`))
	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("APP_ENV", "production")
	t.Setenv("POSTGRES_DSN", "postgres://env")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("EXECUTOR_WORK_DIR", "/tmp/runs")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.HTTP.Addr)
	require.Equal(t, "prod", cfg.Logging.Env)
	require.Equal(t, "postgres://env", cfg.Postgres.DSN)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, "k", cfg.Assist.APIKey)
	require.Equal(t, "/tmp/runs", cfg.Executor.WorkDir)
}

func TestLoadConfig_Port(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "5050")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":5050", cfg.HTTP.Addr)
}

func TestLoadConfig_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"bad yaml":     "http: [",
		"bad backend":  "logging:\n  backend: syslog\n",
		"bad level":    "logging:\n  level: loud\n",
		"bad language": "rooms:\n  defaultLanguage: ruby\n",
		"bad limits":   "limits:\n  runsPerWindow: -1\n",
	} {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("CONFIG_PATH", writeConfig(t, body))
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestConverters(t *testing.T) {
	cfg := Config{
		Postgres: Postgres{DSN: "postgres://x", MaxConns: 3},
		Executor: Executor{WorkDir: "/w", MaxConcurrent: 2, Python: "python3.12"},
		Rooms:    Rooms{DefaultCode: "c", DefaultLanguage: "cpp", EvictEmpty: true},
		Assist:   Assist{APIKey: "k", Model: "m"},
	}

	require.Equal(t, "postgres://x", cfg.Postgres.ToPGConfig().DSN)
	require.EqualValues(t, 3, cfg.Postgres.ToPGConfig().MaxConns)
	require.Equal(t, "python3.12", cfg.Executor.ToOptions().Toolchain.Python)
	require.EqualValues(t, 2, cfg.Executor.ToOptions().MaxConcurrent)
	require.True(t, cfg.Rooms.ToOptions().EvictEmpty)
	require.Equal(t, "m", cfg.Assist.ToConfig().Model)
}
