// Package tracing keeps a catalog of jaeger tracers configured from the
// environment (JAEGER_* variables).
package tracing

import (
	"context"
	"io"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"golang.org/x/xerrors"
)

type key int

// RequestIDKey is the key used to store the identifier of the HTTP request in
// a `context.Context`.
const RequestIDKey key = iota

var (
	// RequestIDTag is the span tag used for denoting the HTTP request that
	// triggered the operation.
	RequestIDTag = "request_id"
	// UndefinedRequest is the default RequestIDTag value used if no
	// RequestIDKey is present in the context.
	UndefinedRequest = "__UNDEFINED_REQUEST__"
)

type tracerCatalog struct {
	sync.Mutex
	tracerByName map[string]closableTracer
}

type closableTracer struct {
	tracer opentracing.Tracer
	closer io.Closer
}

var catalog = tracerCatalog{
	tracerByName: make(map[string]closableTracer),
}

// GetTracer returns an `opentracing.Tracer` instance for the given service
// name. Since the tracers are cached, it returns an existing one if it has
// been initialized before.
func GetTracer(service string) (opentracing.Tracer, error) {
	catalog.Lock()
	defer catalog.Unlock()

	tc, ok := catalog.tracerByName[service]
	if ok {
		return tc.tracer, nil
	}

	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, xerrors.Errorf("error parsing jaeger configuration from environment: %v", err)
	}

	cfg.ServiceName = service

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, xerrors.Errorf("error creating new tracer: %v", err)
	}

	catalog.tracerByName[service] = closableTracer{
		tracer: tracer,
		closer: closer,
	}

	return tracer, nil
}

// RequestID returns the request identifier stored in the context, or the
// undefined value.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return UndefinedRequest
	}

	id, ok := ctx.Value(RequestIDKey).(string)
	if !ok || id == "" {
		return UndefinedRequest
	}

	return id
}

// CloseAll closes all the tracer instances.
func CloseAll() error {
	catalog.Lock()
	defer catalog.Unlock()

	for name, tc := range catalog.tracerByName {
		err := tc.closer.Close()
		if err != nil {
			return xerrors.Errorf("failed to close tracer '%s': %v", name, err)
		}

		delete(catalog.tracerByName, name)
	}

	return nil
}
