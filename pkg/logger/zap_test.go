package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/cwrk-planet/code-room/pkg/logger"

	"github.com/stretchr/testify/require"
)

func TestInit_ProdZap_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Config{
		Service:          "demo",
		Version:          "1.2.3",
		Env:              logger.EnvProd,
		Level:            slog.LevelInfo,
		SampleInitial:    100000,
		SampleThereafter: 100000,
		Output:           &buf,
	})

	slog.Info("booted", slog.String("k", "v"))
	require.NoError(t, logger.Sync())

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m), buf.String())

	require.Equal(t, "booted", m["msg"])
	require.Equal(t, "demo", m["service"])
	require.Equal(t, "prod", m["env"])
	require.Equal(t, "1.2.3", m["version"])
	require.Equal(t, "INFO", m["level"])
	require.Equal(t, "v", m["k"])
	require.NotEmpty(t, m["ts"])
}
