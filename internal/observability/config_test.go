package observability

import (
	"testing"

	"github.com/smallbiznis/settlement/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigNormalizesTelemetry(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:      " ",
		AppVersion:   "1.4.0 ",
		Environment:  "production",
		OTLPEndpoint: " otel:4318 ",
		Telemetry: config.TelemetryConfig{
			LogLevel:      " DEBUG",
			OtelEnabled:   true,
			OtelProtocol:  "HTTP/protobuf",
			SamplingRatio: 3,
		},
	})

	assert.Equal(t, "settlement", cfg.ServiceName)
	assert.Equal(t, "1.4.0", cfg.Version)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "otel:4318", cfg.OtelExporterEndpoint)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigFallsBackToGRPC(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     "settlement-api",
		Environment: "production",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "warn",
			LogFormat:     "console",
			OtelProtocol:  "thrift",
			SamplingRatio: -0.5,
		},
	})

	assert.Equal(t, "settlement-api", cfg.ServiceName)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, 0.0, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())
}
