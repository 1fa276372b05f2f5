package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tbourn/go-digest-backend/internal/config"
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

func enabledCfg(name string, insecure bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: name,
		SampleRatio: 1.0,
	}
}

func TestSetupOTel_DisabledIsNoOp(t *testing.T) {
	preserveOTelGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false, Endpoint: "ignored:4317"}, "v0", "server")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupOTel_InstallsProviderAndPropagator(t *testing.T) {
	for _, tc := range []struct {
		name      string
		insecure  bool
		component string
	}{
		{"insecure server", true, "server"},
		{"tls cli", false, "digestctl"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			preserveOTelGlobals(t)

			shutdown, err := SetupOTel(context.Background(), enabledCfg("digest-"+tc.component, tc.insecure), "v1.2.3", tc.component)
			require.NoError(t, err)
			t.Cleanup(func() { _ = shutdown(context.Background()) })

			_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
			assert.True(t, ok, "sdk tracer provider installed")

			ctx, span := otel.Tracer("digest").Start(context.Background(), "RunForHour")
			carrier := propagation.MapCarrier{}
			otel.GetTextMapPropagator().Inject(ctx, carrier)
			span.End()
			assert.NotEmpty(t, carrier.Get("traceparent"))
		})
	}
}

func TestSetupOTel_CanceledContextStillSucceeds(t *testing.T) {
	preserveOTelGlobals(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // exporter connects lazily

	shutdown, err := SetupOTel(ctx, enabledCfg("digest", true), "v0", "digestctl")
	require.NoError(t, err)
	_ = shutdown(context.Background())
}

func TestSetupOTel_SeamErrorsLeaveGlobalsIntact(t *testing.T) {
	origExp, origRes := newOTLPExporterFn, newServiceResourceFn
	t.Cleanup(func() { newOTLPExporterFn, newServiceResourceFn = origExp, origRes })

	cases := map[string]func(){
		"exporter": func() {
			newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
				return nil, errors.New("boom-exporter")
			}
		},
		"resource": func() {
			newServiceResourceFn = func(context.Context, string, string, string) (*resource.Resource, error) {
				return nil, errors.New("boom-resource")
			}
		},
	}
	for name, breakSeam := range cases {
		t.Run(name, func(t *testing.T) {
			preserveOTelGlobals(t)
			newOTLPExporterFn, newServiceResourceFn = origExp, origRes
			breakSeam()

			prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
			_, err := SetupOTel(context.Background(), enabledCfg("digest", true), "v0", "server")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "boom-"+name)
			assert.Equal(t, prevTP, otel.GetTracerProvider())
			assert.Equal(t, prevProp, otel.GetTextMapPropagator())
		})
	}
}

func TestShutdown_FlushesWithinDeadline(t *testing.T) {
	preserveOTelGlobals(t)

	shutdown, err := SetupOTel(context.Background(), enabledCfg("digest", true), "v1", "digestctl")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	assert.NoError(t, shutdown(ctx), "nothing buffered, nothing to export")
}

func TestServiceResource_CarriesComponent(t *testing.T) {
	attrs := func(component string) map[string]string {
		res, err := newServiceResourceFn(context.Background(), "digest", "v2", component)
		require.NoError(t, err)
		got := map[string]string{}
		for _, kv := range res.Attributes() {
			got[string(kv.Key)] = kv.Value.Emit()
		}
		return got
	}

	got := attrs("digestctl")
	assert.Equal(t, "digest", got["service.name"])
	assert.Equal(t, "v2", got["service.version"])
	assert.Equal(t, "digestctl", got["app.component"])

	_, has := attrs("")["app.component"]
	assert.False(t, has)
}
