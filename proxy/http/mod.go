// Package http implements the proxy on top of the standard HTTP server with a
// gorilla router.
//
// Every request goes through the same chain: a request identifier is set,
// the access is logged, CORS headers are added and the route is observed by
// the Prometheus collectors.
package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/internal/tracing"
	"golang.org/x/net/netutil"
)

// RequestIDHeader is the header carrying the identifier of the request.
const RequestIDHeader = "X-Request-Id"

const shutdownTimeout = 10 * time.Second

var (
	promRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pemilu_http_requests_total",
		Help: "number of HTTP requests per route and status code",
	}, []string{"method", "route", "code"})

	promDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pemilu_http_request_duration_seconds",
		Help:    "latency of the HTTP requests per route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	pemilu.PromCollectors = append(pemilu.PromCollectors, promRequests, promDuration)
}

// HTTP defines a proxy http
//
// - implements proxy.Proxy
// - implements http.Handler
type HTTP struct {
	sync.RWMutex

	router     *mux.Router
	handler    http.Handler
	logger     zerolog.Logger
	listenAddr string
	maxConns   int
	ln         net.Listener
	quit       chan struct{}
}

// Option is the type of option to create the proxy.
type Option func(*HTTP)

// WithMaxConns limits the number of simultaneous connections.
func WithMaxConns(n int) Option {
	return func(h *HTTP) {
		h.maxConns = n
	}
}

// WithCORS allows the cross-origin requests from the origins. Every origin is
// allowed with "*".
func WithCORS(origins ...string) Option {
	return func(h *HTTP) {
		h.handler = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{
				http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
			}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", RequestIDHeader}),
			handlers.ExposedHeaders([]string{RequestIDHeader}),
		)(h.handler)
	}
}

// NewHTTP creates a new proxy http. A random port is used when the address is
// empty.
func NewHTTP(listenAddr string, opts ...Option) *HTTP {
	logger := pemilu.Logger.With().Str("role", "http proxy").Logger()

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	h := &HTTP{
		router:     router,
		logger:     logger,
		listenAddr: listenAddr,
		quit:       make(chan struct{}, 1),
	}

	router.Use(metrics)

	h.handler = http.HandlerFunc(h.route)

	for _, opt := range opts {
		opt(h)
	}

	h.handler = withRequestID(nextRequestID)(logging(logger)(h.handler))

	return h
}

// Listen implements proxy.Proxy. This function can be called multiple times
// provided the server is not running, ie. Stop() has been called.
func (h *HTTP) Listen() {
	h.logger.Info().Msg("Client server is starting...")

	addr := h.listenAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		h.logger.Panic().Msgf("failed to create conn '%s': %v", h.listenAddr, err)
	}

	if h.maxConns > 0 {
		ln = netutil.LimitListener(ln, h.maxConns)
	}

	h.Lock()
	h.ln = ln
	h.Unlock()

	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: shutdownTimeout,
	}

	done := make(chan struct{})

	go func() {
		<-h.quit
		h.logger.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		err := server.Shutdown(ctx)
		if err != nil {
			h.logger.Error().Msgf("Could not gracefully shutdown the server: %v", err)
		}

		close(done)
	}()

	lu := &url.URL{Scheme: "http", Host: ln.Addr().String()}

	h.logger.Info().Msgf("Server is ready to handle requests at %s", lu)

	err = server.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		h.logger.Error().Msgf("Could not listen on %s: %v", h.listenAddr, err)
	}

	<-done

	h.Lock()
	h.ln = nil
	h.Unlock()

	h.logger.Info().Msg("Server stopped")
}

// Stop implements proxy.Proxy. It has no effect when the server is already
// stopping.
func (h *HTTP) Stop() {
	select {
	case h.quit <- struct{}{}:
	default:
	}
}

// GetAddr implements proxy.Proxy.
func (h *HTTP) GetAddr() net.Addr {
	h.RLock()
	defer h.RUnlock()

	if h.ln == nil {
		return nil
	}

	return h.ln.Addr()
}

// RegisterHandler implements proxy.Proxy.
func (h *HTTP) RegisterHandler(path string, handler func(http.ResponseWriter, *http.Request)) {
	h.Lock()
	defer h.Unlock()

	h.router.HandleFunc(path, handler)
}

// RegisterRoute implements proxy.Proxy.
func (h *HTTP) RegisterRoute(method, path string, handler func(http.ResponseWriter, *http.Request)) {
	h.Lock()
	defer h.Unlock()

	h.router.HandleFunc(path, handler).Methods(method)
}

// ServeHTTP implements http.Handler. It serves the request through the
// middlewares and the router.
func (h *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *HTTP) route(w http.ResponseWriter, r *http.Request) {
	h.RLock()
	defer h.RUnlock()

	h.router.ServeHTTP(w, r)
}

func nextRequestID() string {
	return xid.New().String()
}

// statusRecorder keeps the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logging is a utility function that logs the http server events
func logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			defer func() {
				logger.Info().Str("requestID", tracing.RequestID(r.Context())).
					Str("method", r.Method).
					Str("url", r.URL.Path).
					Int("status", rec.status).
					Dur("duration", time.Since(start)).
					Str("remoteAddr", r.RemoteAddr).
					Str("agent", r.UserAgent()).Msg("")
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// withRequestID is a utility function that adds header tracing
func withRequestID(nextRequestID func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = nextRequestID()
			}
			ctx := context.WithValue(r.Context(), tracing.RequestIDKey, requestID)
			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// metrics observes the requests of the matched routes.
func metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path

		current := mux.CurrentRoute(r)
		if current != nil {
			tmpl, err := current.GetPathTemplate()
			if err == nil {
				route = tmpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		promDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		promRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

// writeDetail writes an error in the format of the API.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]string{
		"detail": strings.TrimSpace(detail),
	})
}
