package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_WritesSpansToFile(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	out := filepath.Join(t.TempDir(), "traces.json")
	shutdown, err := Init(Config{Enabled: true, ServiceName: "reimburse-flow", Output: out})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "workflow.start")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "workflow.start")
	assert.Contains(t, string(data), "reimburse-flow")
}

func TestNewProvider_RecordsServiceName(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp, err := NewProvider("svc", "1.0", rec)
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name())

	var service string
	for _, kv := range spans[0].Resource().Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "svc", service)
}
