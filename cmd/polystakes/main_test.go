package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCheckOnly(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", "", "-mode", "MEMORY", "-check"}, &out))
	assert.Contains(t, out.String(), "configuration ok")
	assert.Contains(t, out.String(), `"mode":"memory"`)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	err := run(context.Background(), []string{"-config", "", "-mode", "trade"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "trade"`)

	err = run(context.Background(), []string{"-config", "/does/not/exist.toml"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "load config")
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	t.Setenv("POLYSTAKES_SERVER_ENABLED", "false")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-config", "", "-mode", "memory"}, &out))
	assert.Contains(t, out.String(), "polystakes stopped")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
}
