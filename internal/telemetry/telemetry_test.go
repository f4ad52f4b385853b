package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/config"
)

func TestNewWithoutEndpointIsNoop(t *testing.T) {
	p, err := New(context.Background(), config.Config{ServiceName: "windows97-test"}, zap.NewNop())
	require.NoError(t, err)

	for _, component := range []string{ComponentAuth, ComponentRateLimit, ComponentGenAI} {
		_, span := p.Tracer(component).Start(context.Background(), "noop")
		require.False(t, span.SpanContext().IsValid(), component)
		span.End()
	}

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *Provider
	require.NotNil(t, p.Tracer(ComponentAuth))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestClampRatio(t *testing.T) {
	require.Equal(t, 0.0, clampRatio(-1))
	require.Equal(t, 0.25, clampRatio(0.25))
	require.Equal(t, 1.0, clampRatio(3))
}
