// Package ethrpc implements the chain backend on top of the go-ethereum
// JSON-RPC client.
//
// Every call is bounded by a timeout, traced with opentracing and observed by
// a Prometheus histogram labelled with the JSON-RPC method.
package ethrpc

import (
	"context"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/chain"
	"go.dedis.ch/pemilu/config"
	"go.dedis.ch/pemilu/internal/tracing"
	"golang.org/x/xerrors"
)

// DefaultTimeout is the timeout of a single call when none is given.
const DefaultTimeout = 10 * time.Second

var promLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "pemilu_rpc_duration_seconds",
	Help:    "latency of the JSON-RPC calls",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "status"})

func init() {
	pemilu.PromCollectors = append(pemilu.PromCollectors, promLatency)
}

// Client is a chain backend that decorates another one, usually the
// go-ethereum client, with timeouts, tracing and metrics.
//
// - implements chain.Backend
type Client struct {
	backend  chain.Backend
	tracer   opentracing.Tracer
	timeout  time.Duration
	logger   zerolog.Logger
	endpoint string
}

// Option is the type of option to create a client.
type Option func(*Client)

// WithTimeout sets the timeout of a single call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTracer sets the tracer used to create the spans.
func WithTracer(tracer opentracing.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// NewClient returns a client decorating the backend.
func NewClient(backend chain.Backend, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		tracer:  opentracing.NoopTracer{},
		timeout: DefaultTimeout,
		logger:  pemilu.Logger.With().Str("role", "rpc").Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Dial connects to the endpoint and verifies that it answers by asking its
// chain identifier. The endpoint is removed from the errors of the client as
// it may carry an API key.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, xerrors.Errorf("failed to dial: %v", Scrub(err, url))
	}

	client := NewClient(ethclient.NewClient(rpcClient), opts...)
	client.endpoint = url

	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, xerrors.Errorf("failed to connect to Ethereum node: %v", err)
	}

	client.logger.Info().Str("chain", id.String()).Msg("connected to the endpoint")

	return client, nil
}

// CodeAt implements chain.Backend.
func (c *Client) CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error) {
	var code []byte

	err := c.do(ctx, "eth_getCode", func(ctx context.Context) (err error) {
		code, err = c.backend.CodeAt(ctx, addr, block)
		return err
	})

	return code, err
}

// CallContract implements chain.Backend.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	var out []byte

	err := c.do(ctx, "eth_call", func(ctx context.Context) (err error) {
		out, err = c.backend.CallContract(ctx, msg, block)
		return err
	})

	return out, err
}

// EstimateGas implements chain.Backend.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64

	err := c.do(ctx, "eth_estimateGas", func(ctx context.Context) (err error) {
		gas, err = c.backend.EstimateGas(ctx, msg)
		return err
	})

	return gas, err
}

// PendingNonceAt implements chain.Backend.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64

	err := c.do(ctx, "eth_getTransactionCount", func(ctx context.Context) (err error) {
		nonce, err = c.backend.PendingNonceAt(ctx, account)
		return err
	})

	return nonce, err
}

// SuggestGasPrice implements chain.Backend.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int

	err := c.do(ctx, "eth_gasPrice", func(ctx context.Context) (err error) {
		price, err = c.backend.SuggestGasPrice(ctx)
		return err
	})

	return price, err
}

// SuggestGasTipCap implements chain.Backend.
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var tip *big.Int

	err := c.do(ctx, "eth_maxPriorityFeePerGas", func(ctx context.Context) (err error) {
		tip, err = c.backend.SuggestGasTipCap(ctx)
		return err
	})

	return tip, err
}

// HeaderByNumber implements chain.Backend.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header

	err := c.do(ctx, "eth_getBlockByNumber", func(ctx context.Context) (err error) {
		header, err = c.backend.HeaderByNumber(ctx, number)
		return err
	})

	return header, err
}

// BlockNumber implements chain.Backend.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var number uint64

	err := c.do(ctx, "eth_blockNumber", func(ctx context.Context) (err error) {
		number, err = c.backend.BlockNumber(ctx)
		return err
	})

	return number, err
}

// ChainID implements chain.Backend.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int

	err := c.do(ctx, "eth_chainId", func(ctx context.Context) (err error) {
		id, err = c.backend.ChainID(ctx)
		return err
	})

	return id, err
}

// FilterLogs implements chain.Backend.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log

	err := c.do(ctx, "eth_getLogs", func(ctx context.Context) (err error) {
		logs, err = c.backend.FilterLogs(ctx, q)
		return err
	})

	return logs, err
}

// Close implements chain.Backend. It closes the underlying connection.
func (c *Client) Close() {
	c.backend.Close()
}

func (c *Client) do(ctx context.Context, method string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, c.tracer, method)
	span.SetTag(tracing.RequestIDTag, tracing.RequestID(ctx))

	defer span.Finish()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	err := fn(ctx)

	status := "ok"
	if err != nil {
		status = "error"

		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
	}

	elapsed := time.Since(start)

	promLatency.WithLabelValues(method, status).Observe(elapsed.Seconds())

	err = Scrub(err, c.endpoint)

	c.logger.Trace().
		Str("method", method).
		Dur("elapsed", elapsed).
		Err(err).
		Msg("json-rpc call")

	return err
}

// Scrub returns an error with the same chain as err where the endpoint is
// masked in the message.
func Scrub(err error, endpoint string) error {
	if err == nil || endpoint == "" {
		return err
	}

	msg := endpointReplacer(endpoint).Replace(err.Error())
	if msg == err.Error() {
		return err
	}

	return scrubbedError{err: err, msg: msg}
}

// endpointReplacer masks the ways the HTTP client prints the endpoint, the
// longest first.
func endpointReplacer(endpoint string) *strings.Replacer {
	masked := config.MaskURL(endpoint)
	pairs := []string{endpoint, masked}

	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return strings.NewReplacer(pairs...)
	}

	pairs = append(pairs, u.String(), masked, u.Redacted(), masked)

	if u.Path != "" && u.Path != "/" {
		pairs = append(pairs, u.EscapedPath(), "/redacted")
	}

	if u.RawQuery != "" {
		pairs = append(pairs, u.RawQuery, "redacted")
	}

	return strings.NewReplacer(pairs...)
}

// scrubbedError replaces the message of an error while keeping it in the
// chain for xerrors.Is and xerrors.As.
type scrubbedError struct {
	err error
	msg string
}

func (e scrubbedError) Error() string {
	return e.msg
}

func (e scrubbedError) Unwrap() error {
	return e.err
}
