package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ehrconnect/authz/internal/config"
	"github.com/ehrconnect/authz/pkg/logger"
)

func TestSetup_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), config.AppConfig{Name: "ehr-authz"}, config.TracingConfig{}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetup_Enabled(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown, err := Setup(context.Background(),
		config.AppConfig{Name: "ehr-authz", Env: "test"},
		config.TracingConfig{Enabled: true, Endpoint: "127.0.0.1:4318", Insecure: true, SampleRatio: 0.5},
		logger.NewNop(),
	)
	require.NoError(t, err)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)
	// Nothing was recorded so shutdown does not need the collector.
	require.NoError(t, shutdown(context.Background()))
}
