package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/d60-Lab/tweet-queue/config"
	"github.com/d60-Lab/tweet-queue/pkg/logger"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInit_EnabledBuildsProvider(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{
		Enabled:     true,
		Endpoint:    "localhost:4318",
		Insecure:    true,
		ServiceName: "tweet-queue-test",
		SampleRatio: 1,
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestOrNoop_InitFailureDegrades(t *testing.T) {
	prev := logger.L()
	core, logs := observer.New(zapcore.WarnLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(prev) })

	shutdown := OrNoop(nil, errors.New("create otlp exporter: bad endpoint"))
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("tracing disabled").Len())
}

func TestOrNoop_KeepsWorkingShutdown(t *testing.T) {
	called := false
	shutdown := OrNoop(func(context.Context) error { called = true; return nil }, nil)
	require.NoError(t, shutdown(context.Background()))
	assert.True(t, called)
}
