package observability

import (
	"strings"

	"github.com/smallbiznis/settlement/internal/config"
)

const (
	protocolGRPC = "grpc"
	protocolHTTP = "http"
)

// Config is the telemetry view of config.Config that the logger, tracer and
// meter providers are built from.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig normalizes cfg.Telemetry. Unknown exporter protocols fall back to
// grpc and the sampling ratio is clamped to [0, 1].
func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "settlement"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             normalize(cfg.Telemetry.LogLevel, "info"),
		LogFormat:            normalize(cfg.Telemetry.LogFormat, "json"),
		OtelEnabled:          cfg.Telemetry.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: exporterProtocol(cfg.Telemetry.OtelProtocol),
		OtelSamplingRatio:    clampRatio(cfg.Telemetry.SamplingRatio),
	}
}

func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	return isDevEnv(c.Environment)
}

func isDevEnv(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	switch env {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func normalize(value, def string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return def
	}
	return value
}

func exporterProtocol(value string) string {
	switch normalize(value, protocolGRPC) {
	case "http", "http/protobuf":
		return protocolHTTP
	default:
		return protocolGRPC
	}
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0 || ratio != ratio:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}
