// Package controller implements the controller of the election contract. It
// creates the service on start and registers the REST endpoints on the proxy.
package controller

import (
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/chain"
	"go.dedis.ch/pemilu/chain/txbuilder"
	"go.dedis.ch/pemilu/cli"
	"go.dedis.ch/pemilu/cli/node"
	"go.dedis.ch/pemilu/config"
	"go.dedis.ch/pemilu/contracts/election"
	"go.dedis.ch/pemilu/contracts/election/api"
	"go.dedis.ch/pemilu/contracts/election/index"
	"go.dedis.ch/pemilu/proxy"
	"go.dedis.ch/pemilu/store/kv"
	"golang.org/x/xerrors"
)

// NewController returns a new controller initializer.
func NewController() node.Initializer {
	return controller{}
}

// controller binds the contract on start.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer. It sets the start flags of the
// binding and the commands to inspect the contract.
func (controller) SetCommands(builder node.Builder) {
	builder.SetStartFlags(
		cli.StringFlag{
			Name:  "contract",
			Usage: "address of the election contract (CONTRACT_ADDRESS)",
		},
		cli.StringFlag{
			Name:  "abi",
			Usage: "path to the ABI of the contract, the embedded one is used when empty (CONTRACT_ABI)",
		},
		cli.Uint64Flag{
			Name:  "from-block",
			Usage: "block of the deployment of the contract (CONTRACT_FROM_BLOCK)",
		},
		cli.DurationFlag{
			Name:  "cache-ttl",
			Usage: "duration the lists of candidates and voters are cached, 0 disables the cache (CACHE_TTL)",
			Value: -1,
		},
		cli.Uint64Flag{
			Name:  "max-range",
			Usage: "largest range of blocks requested for the events (LOG_MAX_RANGE)",
		},
	)

	cmd := builder.SetCommand("election")
	cmd.SetDescription("inspect the election contract")

	sub := cmd.SetSubCommand("info")
	sub.SetDescription("print the owner, the counters and the voting period")
	sub.SetAction(builder.MakeAction(infoAction{}))

	sub = cmd.SetSubCommand("candidates")
	sub.SetDescription("print the active candidates")
	sub.SetAction(builder.MakeAction(candidatesAction{}))

	sub = cmd.SetSubCommand("voters")
	sub.SetDescription("print the registered voters")
	sub.SetAction(builder.MakeAction(votersAction{}))

	sub = cmd.SetSubCommand("index")
	sub.SetDescription("manage the index of the events")

	indexCmd := sub.SetSubCommand("sync")
	indexCmd.SetDescription("read the events up to the head of the chain")
	indexCmd.SetAction(builder.MakeAction(syncAction{}))

	indexCmd = sub.SetSubCommand("reset")
	indexCmd.SetDescription("drop the index so that it is built again")
	indexCmd.SetAction(builder.MakeAction(resetAction{}))
}

// OnStart implements node.Initializer. It creates the service and registers
// the endpoints on the proxy when available.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	cfg := config.Default()
	_ = inj.Resolve(&cfg)

	raw := flags.String("contract")
	if raw == "" {
		raw = cfg.Contract.Address
	}

	address, err := chain.ParseAddress(raw)
	if err != nil {
		return xerrors.Errorf("invalid contract address '%s'", raw)
	}

	path := flags.String("abi")
	if path == "" {
		path = cfg.Contract.ABI
	}

	def, err := election.LoadABI(path)
	if err != nil {
		return xerrors.Errorf("failed to load abi: %v", err)
	}

	from := flags.Uint64("from-block")
	if from == 0 {
		from = cfg.Contract.FromBlock
	}

	maxRange := flags.Uint64("max-range")
	if maxRange == 0 {
		maxRange = cfg.Contract.MaxRange
	}

	// A negative duration is the default of the flag.
	ttl := flags.Duration("cache-ttl")
	if ttl < 0 {
		ttl = cfg.Contract.CacheTTL
	}

	var backend chain.Backend

	err = inj.Resolve(&backend)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	var builder txbuilder.Builder

	err = inj.Resolve(&builder)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	var idx index.Index

	var db kv.DB
	if inj.Resolve(&db) == nil {
		idx = index.NewKVIndex(db, backend, address, from, maxRange, election.Sets(def)...)
	} else {
		idx = index.NewScanIndex(backend, address, from, maxRange, election.Sets(def)...)
	}

	srv := election.NewService(backend, builder, address, def,
		election.WithIndex(idx), election.WithCacheTTL(ttl))

	inj.Inject(srv)

	var router proxy.Proxy

	err = inj.Resolve(&router)
	if err == nil {
		api.NewAPI(srv).Register(router)
	}

	pemilu.Logger.Info().
		Str("contract", address.Hex()).
		Uint64("from", from).
		Dur("cacheTTL", ttl).
		Bool("api", err == nil).
		Msg("election contract bound")

	return nil
}

// OnStop implements node.Initializer.
func (controller) OnStop(node.Injector) error {
	return nil
}
