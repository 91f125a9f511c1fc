package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// GenerateOTLPBearerToken signs token with sharedSecret for the collector.
func GenerateOTLPBearerToken(sharedSecret string, token string) (string, error) {
	hash := sha256.New()
	if _, err := hash.Write([]byte(sharedSecret + "." + token)); err != nil {
		return "", errors.Wrap(err, "error hashing token")
	}
	return token + "." + base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}

type ShutdownFunc func()

// New installs a global tracer provider exporting spans to otlpServerURL over
// OTLP/HTTP. Spans started with otel.Tracer before New are dropped.
func New(ctx context.Context, otlpServerURL string, authToken string, serviceName string) (ShutdownFunc, error) {
	u, err := url.Parse(otlpServerURL)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing otlpServerURL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("error parsing otlpServerURL: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/v1/traces"

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) && !errors.Is(err, resource.ErrSchemaURLConflict) {
		return nil, errors.Wrap(err, "error creating resource")
	}

	headers := make(map[string]string)
	if authToken != "" {
		headers["Authorization"] = "Bearer " + authToken
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(u.String()),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(time.Second * 10),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if u.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "error creating trace exporter")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		provider.Shutdown(ctx)
	}, nil
}
