package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/azizikri/coupon-budget-ledger/internal/config"
)

func preserveOTelGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func enabledConfig() *config.Config {
	return &config.Config{
		OTelEnabled:     true,
		OTelInsecure:    true,
		OTelEndpoint:    "localhost:4317",
		OTelServiceName: "coupon-budget-test",
		OTelSampleRatio: 1.0,
	}
}

func TestSetupOTel_DisabledIsNoop(t *testing.T) {
	preserveOTelGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), &config.Config{}, "test")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupOTel_InstallsProviderAndPropagator(t *testing.T) {
	preserveOTelGlobals(t)

	shutdown, err := SetupOTel(context.Background(), enabledConfig(), "v1.0.0")
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)

	ctx, span := otel.Tracer("test").Start(context.Background(), "span")
	defer span.End()
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	assert.NotEmpty(t, carrier.Get("traceparent"))
}

func TestSetupOTel_TLSBranch(t *testing.T) {
	preserveOTelGlobals(t)
	cfg := enabledConfig()
	cfg.OTelInsecure = false

	shutdown, err := SetupOTel(context.Background(), cfg, "v1.0.0")
	require.NoError(t, err)
	_ = shutdown(context.Background())
}

func TestSetupOTel_ExporterError(t *testing.T) {
	preserveOTelGlobals(t)
	orig := newOTLPExporterFn
	t.Cleanup(func() { newOTLPExporterFn = orig })
	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, errors.New("boom")
	}
	before := otel.GetTracerProvider()

	_, err := SetupOTel(context.Background(), enabledConfig(), "v1.0.0")
	assert.Error(t, err)
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupOTel_ResourceError(t *testing.T) {
	preserveOTelGlobals(t)
	orig := newServiceResourceFn
	t.Cleanup(func() { newServiceResourceFn = orig })
	newServiceResourceFn = func(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
		return nil, errors.New("boom")
	}

	_, err := SetupOTel(context.Background(), enabledConfig(), "v1.0.0")
	assert.Error(t, err)
}
