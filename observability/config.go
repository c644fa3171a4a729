package observability

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// EndpointStdout writes telemetry to stdout (local development).
	EndpointStdout = "stdout"

	// ProtocolHTTP specifies OTLP over HTTP/protobuf.
	ProtocolHTTP = "http"

	// ProtocolGRPC specifies OTLP over gRPC.
	ProtocolGRPC = "grpc"

	// EnvironmentDevelopment is the default deployment environment.
	EnvironmentDevelopment = "development"
)

// Validation failures. Validate wraps them with the offending value.
var (
	ErrNilConfig             = errors.New("observability: nil config")
	ErrMissingServiceName    = errors.New("observability: service.name is required")
	ErrInvalidSampleRate     = errors.New("observability: trace.samplerate outside [0, 1]")
	ErrInvalidProtocol       = errors.New("observability: protocol is neither http nor grpc")
	ErrInvalidEndpointFormat = errors.New("observability: endpoint does not match protocol")
)

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool {
	return &v
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}

// Config is the `observability` section of the alioli configuration.
type Config struct {
	// Enabled switches every exporter on or off. Disabled means a no-op provider.
	Enabled bool `mapstructure:"enabled"`

	Service     ServiceConfig `mapstructure:"service"`
	Environment string        `mapstructure:"environment"`
	Trace       TraceConfig   `mapstructure:"trace"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// ServiceConfig identifies the process in exported telemetry.
type ServiceConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// TraceConfig configures span export.
type TraceConfig struct {
	// Enabled defaults to true when observability is enabled.
	Enabled  *bool  `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Protocol string `mapstructure:"protocol"`
	Insecure bool   `mapstructure:"insecure"`
	// Headers are sent with every export (collector API keys).
	Headers map[string]string `mapstructure:"headers"`
	// SampleRate in [0, 1]; defaults to 1.
	SampleRate    *float64      `mapstructure:"samplerate"`
	BatchTimeout  time.Duration `mapstructure:"batchtimeout"`
	ExportTimeout time.Duration `mapstructure:"exporttimeout"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	// Enabled defaults to true when observability is enabled.
	Enabled  *bool             `mapstructure:"enabled"`
	Endpoint string            `mapstructure:"endpoint"`
	Protocol string            `mapstructure:"protocol"`
	Insecure bool              `mapstructure:"insecure"`
	Headers  map[string]string `mapstructure:"headers"`
	// Interval between periodic exports.
	Interval      time.Duration `mapstructure:"interval"`
	ExportTimeout time.Duration `mapstructure:"exporttimeout"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Service.Version == "" {
		c.Service.Version = "unknown"
	}
	if c.Environment == "" {
		c.Environment = EnvironmentDevelopment
	}

	if c.Enabled && c.Trace.Enabled == nil {
		c.Trace.Enabled = BoolPtr(true)
	}
	if c.Trace.Endpoint == "" {
		c.Trace.Endpoint = EndpointStdout
	}
	if c.Trace.Protocol == "" {
		c.Trace.Protocol = ProtocolHTTP
	}
	if c.Trace.SampleRate == nil {
		c.Trace.SampleRate = Float64Ptr(1.0)
	}
	if c.Trace.BatchTimeout <= 0 {
		c.Trace.BatchTimeout = 5 * time.Second
	}
	if c.Trace.ExportTimeout <= 0 {
		c.Trace.ExportTimeout = 30 * time.Second
	}

	if c.Enabled && c.Metrics.Enabled == nil {
		c.Metrics.Enabled = BoolPtr(true)
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = c.Trace.Endpoint
	}
	if c.Metrics.Protocol == "" {
		c.Metrics.Protocol = c.Trace.Protocol
	}
	if c.Metrics.Headers == nil && len(c.Trace.Headers) > 0 {
		c.Metrics.Headers = c.Trace.Headers
	}
	if c.Metrics.Interval <= 0 {
		c.Metrics.Interval = 60 * time.Second
	}
	if c.Metrics.ExportTimeout <= 0 {
		c.Metrics.ExportTimeout = 30 * time.Second
	}
}

// TraceEnabled reports whether spans are exported.
func (c *Config) TraceEnabled() bool {
	return c.Enabled && c.Trace.Enabled != nil && *c.Trace.Enabled
}

// MetricsEnabled reports whether metrics are exported.
func (c *Config) MetricsEnabled() bool {
	return c.Enabled && c.Metrics.Enabled != nil && *c.Metrics.Enabled
}

// Validate checks a config after ApplyDefaults. A disabled config is always valid.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Service.Name) == "" {
		return ErrMissingServiceName
	}
	if r := c.Trace.SampleRate; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidSampleRate, *r)
	}
	if err := validateEndpoint("trace", c.Trace.Endpoint, c.Trace.Protocol); err != nil {
		return err
	}
	return validateEndpoint("metrics", c.Metrics.Endpoint, c.Metrics.Protocol)
}

// validateEndpoint rejects unknown protocols and gRPC endpoints carrying a URL scheme.
func validateEndpoint(signal, endpoint, protocol string) error {
	if endpoint == EndpointStdout {
		return nil
	}
	switch protocol {
	case ProtocolHTTP:
		return nil
	case ProtocolGRPC:
		if hasScheme(endpoint) {
			return fmt.Errorf("%s endpoint %q: %w: gRPC expects host:port", signal, endpoint, ErrInvalidEndpointFormat)
		}
		return nil
	default:
		return fmt.Errorf("%s protocol %q: %w", signal, protocol, ErrInvalidProtocol)
	}
}

func hasScheme(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}
