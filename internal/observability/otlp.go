package observability

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// OTLPExporterConfig is the per-signal exporter configuration.
type OTLPExporterConfig struct {
	Endpoint          string
	Protocol          string
	Insecure          bool
	TLSCertFile       string
	TLSClientCertFile string
	TLSClientKeyFile  string
	Headers           map[string]string
	Timeout           time.Duration
	Compression       string
	RetryEnabled      bool
	RetryMaxAttempts  int
}

type otlpProtocol string

const (
	otlpProtocolGRPC otlpProtocol = "grpc"
	otlpProtocolHTTP otlpProtocol = "http/protobuf"
)

// Export retry timings shared by every exporter.
const (
	retryInitial    = time.Second
	retryMaxBackoff = 5 * time.Second
	retryMaxElapsed = 30 * time.Second
)

func parseOTLPProtocol(value string) (otlpProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(otlpProtocolGRPC):
		return otlpProtocolGRPC, nil
	case "http", string(otlpProtocolHTTP):
		return otlpProtocolHTTP, nil
	default:
		return "", fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", value)
	}
}

// exportSettings is an OTLPExporterConfig with files loaded and the
// protocol parsed, ready to become exporter options for either signal.
type exportSettings struct {
	protocol otlpProtocol
	endpoint string
	isURL    bool
	tls      *tls.Config // nil when insecure
	headers  map[string]string
	timeout  time.Duration
	gzip     bool
	retry    bool
}

func resolveExport(cfg OTLPExporterConfig) (exportSettings, error) {
	protocol, err := parseOTLPProtocol(cfg.Protocol)
	if err != nil {
		return exportSettings{}, err
	}
	s := exportSettings{
		protocol: protocol,
		endpoint: cfg.Endpoint,
		isURL:    strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://"),
		headers:  cfg.Headers,
		timeout:  cfg.Timeout,
		gzip:     cfg.Compression == "gzip",
		retry:    cfg.RetryEnabled && cfg.RetryMaxAttempts > 0,
	}
	if !cfg.Insecure {
		if s.tls, err = loadTLS(cfg); err != nil {
			return exportSettings{}, err
		}
	}
	return s, nil
}

// loadTLS reads the collector CA and the optional mTLS client pair.
func loadTLS(cfg OTLPExporterConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCertFile != "" {
		pem, err := os.ReadFile(cfg.TLSCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read OTLP TLS CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse OTLP TLS CA file")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.TLSClientCertFile == "" && cfg.TLSClientKeyFile == "" {
		return tlsConfig, nil
	}
	if cfg.TLSClientCertFile == "" || cfg.TLSClientKeyFile == "" {
		return nil, errors.New("OTLP TLS client cert and key must both be set")
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load OTLP TLS client certificate: %w", err)
	}
	tlsConfig.Certificates = []tls.Certificate{cert}
	return tlsConfig, nil
}

func newSpanExporter(ctx context.Context, s exportSettings) (sdktrace.SpanExporter, error) {
	if s.protocol == otlpProtocolHTTP {
		return otlptracehttp.New(ctx, traceHTTPOptions(s)...)
	}
	return otlptracegrpc.New(ctx, traceGRPCOptions(s)...)
}

func newLogExporter(ctx context.Context, s exportSettings) (log.Exporter, error) {
	if s.protocol == otlpProtocolHTTP {
		return otlploghttp.New(ctx, logHTTPOptions(s)...)
	}
	return otlploggrpc.New(ctx, logGRPCOptions(s)...)
}

func traceGRPCOptions(s exportSettings) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.endpoint)}
	if s.tls == nil {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(s.tls)))
	}
	if len(s.headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(s.headers))
	}
	if s.timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(s.timeout))
	}
	if s.gzip {
		opts = append(opts, otlptracegrpc.WithCompressor("gzip"))
	}
	if s.retry {
		opts = append(opts, otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled: true, InitialInterval: retryInitial, MaxInterval: retryMaxBackoff, MaxElapsedTime: retryMaxElapsed,
		}))
	}
	return opts
}

func traceHTTPOptions(s exportSettings) []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	if s.isURL {
		opts = append(opts, otlptracehttp.WithEndpointURL(s.endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(s.endpoint))
	}
	if s.tls == nil {
		opts = append(opts, otlptracehttp.WithInsecure())
	} else {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(s.tls))
	}
	if len(s.headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(s.headers))
	}
	if s.timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(s.timeout))
	}
	if s.gzip {
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	}
	if s.retry {
		opts = append(opts, otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled: true, InitialInterval: retryInitial, MaxInterval: retryMaxBackoff, MaxElapsedTime: retryMaxElapsed,
		}))
	}
	return opts
}

func logGRPCOptions(s exportSettings) []otlploggrpc.Option {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(s.endpoint)}
	if s.tls == nil {
		opts = append(opts, otlploggrpc.WithInsecure())
	} else {
		opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(s.tls)))
	}
	if len(s.headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(s.headers))
	}
	if s.timeout > 0 {
		opts = append(opts, otlploggrpc.WithTimeout(s.timeout))
	}
	if s.gzip {
		opts = append(opts, otlploggrpc.WithCompressor("gzip"))
	}
	if s.retry {
		opts = append(opts, otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
			Enabled: true, InitialInterval: retryInitial, MaxInterval: retryMaxBackoff, MaxElapsedTime: retryMaxElapsed,
		}))
	}
	return opts
}

func logHTTPOptions(s exportSettings) []otlploghttp.Option {
	var opts []otlploghttp.Option
	if s.isURL {
		opts = append(opts, otlploghttp.WithEndpointURL(s.endpoint))
	} else {
		opts = append(opts, otlploghttp.WithEndpoint(s.endpoint))
	}
	if s.tls == nil {
		opts = append(opts, otlploghttp.WithInsecure())
	} else {
		opts = append(opts, otlploghttp.WithTLSClientConfig(s.tls))
	}
	if len(s.headers) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(s.headers))
	}
	if s.timeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(s.timeout))
	}
	if s.gzip {
		opts = append(opts, otlploghttp.WithCompression(otlploghttp.GzipCompression))
	}
	if s.retry {
		opts = append(opts, otlploghttp.WithRetry(otlploghttp.RetryConfig{
			Enabled: true, InitialInterval: retryInitial, MaxInterval: retryMaxBackoff, MaxElapsedTime: retryMaxElapsed,
		}))
	}
	return opts
}
