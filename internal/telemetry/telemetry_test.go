package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/excelmind/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.Health().Enabled)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "disabled skips checks", mutate: func(c *Config) { c.Endpoint = "" }},
		{name: "local insecure ok", mutate: func(c *Config) { c.Enabled = true }},
		{name: "loopback ip ok", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "127.0.0.1:4317" }},
		{name: "remote insecure rejected", mutate: func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, wantErr: true},
		{name: "remote tls ok", mutate: func(c *Config) { c.Enabled = true; c.Insecure = false; c.Endpoint = "otel.example.com:4317" }},
		{name: "bad protocol", mutate: func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, wantErr: true},
		{name: "bad sample rate", mutate: func(c *Config) { c.Enabled = true; c.SampleRate = 2 }, wantErr: true},
		{name: "missing service", mutate: func(c *Config) { c.Enabled = true; c.ServiceName = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:     true,
		Endpoint:    "localhost:4318",
		Protocol:    "http/protobuf",
		Insecure:    true,
		SampleRate:  0.5,
		ServiceName: "excelmind-test",
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.InDelta(t, 0.5, cfg.SampleRate, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestTestTelemetry_RecordsSpansAndMetrics(t *testing.T) {
	tel := NewTestTelemetry()
	ctx := context.Background()

	_, span := tel.Tracer("test").Start(ctx, "phase.observe")
	span.SetAttributes(attribute.String("task.id", "t-1"))
	span.End()

	counter, err := tel.Meter("test").Int64Counter("excelmind.test.count")
	require.NoError(t, err)
	counter.Add(ctx, 2, metricAttr("ok"))
	counter.Add(ctx, 1, metricAttr("error"))

	tel.AssertSpanExists(t, "phase.observe")
	tel.AssertSpanAttribute(t, "phase.observe", "task.id", "t-1")
	assert.Equal(t, int64(3), tel.SumValue(ctx, "excelmind.test.count", attribute.KeyValue{}))
	assert.Equal(t, int64(1), tel.SumValue(ctx, "excelmind.test.count", attribute.String("outcome", "error")))
}

func metricAttr(outcome string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}
