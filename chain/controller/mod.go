// Package controller implements the controller that connects the gateway to
// the JSON-RPC endpoint.
package controller

import (
	"context"
	"time"

	"go.dedis.ch/pemilu/chain"
	"go.dedis.ch/pemilu/chain/ethrpc"
	"go.dedis.ch/pemilu/chain/txbuilder"
	"go.dedis.ch/pemilu/cli"
	"go.dedis.ch/pemilu/cli/node"
	"go.dedis.ch/pemilu/config"
	"go.dedis.ch/pemilu/internal/tracing"
	"golang.org/x/xerrors"
)

const tracerName = "pemilu-rpc"

const dialTimeout = 30 * time.Second

var (
	getTracer = tracing.GetTracer

	dialFn = func(ctx context.Context, url string, opts ...ethrpc.Option) (chain.Backend, error) {
		return ethrpc.Dial(ctx, url, opts...)
	}
)

// NewController returns a new controller initializer.
func NewController() node.Initializer {
	return controller{}
}

// controller dials the endpoint on start, and injects the backend and the
// transaction builder.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer. It sets the start flags of the
// connection and the command to inspect the chain.
func (controller) SetCommands(builder node.Builder) {
	builder.SetStartFlags(
		cli.StringFlag{
			Name:  "rpc-url",
			Usage: "JSON-RPC endpoint of the chain (RPC_URL)",
		},
		cli.DurationFlag{
			Name:  "rpc-timeout",
			Usage: "timeout of a single JSON-RPC call (RPC_TIMEOUT)",
		},
		cli.IntFlag{
			Name:  "gas-margin",
			Usage: "percentage added to the estimated gas (GAS_MARGIN)",
			Value: -1,
		},
	)

	cmd := builder.SetCommand("chain")
	cmd.SetDescription("inspect the chain")

	sub := cmd.SetSubCommand("status")
	sub.SetDescription("print the chain id, the head and the suggested fees")
	sub.SetAction(builder.MakeAction(statusAction{}))
}

// OnStart implements node.Initializer. It connects to the endpoint.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	cfg := config.Default()
	_ = inj.Resolve(&cfg)

	url := flags.String("rpc-url")
	if url == "" {
		url = cfg.RPC.URL
	}

	timeout := flags.Duration("rpc-timeout")
	if timeout == 0 {
		timeout = cfg.RPC.Timeout
	}

	margin := flags.Int("gas-margin")
	if margin < 0 {
		margin = cfg.RPC.GasMargin
	}

	tracer, err := getTracer(tracerName)
	if err != nil {
		return xerrors.Errorf("failed to get tracer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	backend, err := dialFn(ctx, url, ethrpc.WithTimeout(timeout), ethrpc.WithTracer(tracer))
	if err != nil {
		return xerrors.Errorf("failed to connect to '%s': %v", config.MaskURL(url), ethrpc.Scrub(err, url))
	}

	inj.Inject(backend)
	inj.Inject(txbuilder.NewBuilder(backend, margin))

	return nil
}

// OnStop implements node.Initializer. It closes the connection.
func (controller) OnStop(inj node.Injector) error {
	var backend chain.Backend

	err := inj.Resolve(&backend)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	backend.Close()

	return nil
}
