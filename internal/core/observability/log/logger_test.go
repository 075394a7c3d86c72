package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_FieldsReachZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))

	logger.With(String("scene", "s1")).Warn("pool overflow",
		Uint32("entity", 666),
		Int("size", 64),
		Bool("oversized", false),
		Duration("elapsed", 2*time.Second),
		Any("route", "/scenes/{id}/ws"),
		Err(errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "pool overflow", entry.Message)
	assert.Equal(t, zapcore.WarnLevel, entry.Level)

	ctx := entry.ContextMap()
	assert.Equal(t, "s1", ctx["scene"])
	assert.EqualValues(t, 666, ctx["entity"])
	assert.EqualValues(t, 64, ctx["size"])
	assert.Equal(t, "boom", ctx["error"])
	assert.Equal(t, false, ctx["oversized"])
	assert.Equal(t, 2*time.Second, ctx["elapsed"])
	assert.Equal(t, "/scenes/{id}/ws", ctx["route"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))

	logger.SetLevel(LevelWarn)
	assert.Equal(t, LevelWarn, logger.GetLevel())

	logger.Info("dropped")
	logger.Error("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, "warn", LevelWarn.String())
}
