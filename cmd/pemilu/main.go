// Package main implements the REST gateway of the election contract.
//
//	pemilu start --rpc-url http://127.0.0.1:8545 --contract 0x...\
//	  --clientaddr 127.0.0.1:8000
//	pemilu proxy prom --path /metrics
//	pemilu election info
//	pemilu election index sync
//	pemilu --config ~/.pemilu chain status
package main

import (
	"fmt"
	"io"
	"os"

	"go.dedis.ch/pemilu/chain/controller"
	"go.dedis.ch/pemilu/cli/node"
	config "go.dedis.ch/pemilu/config/controller"
	election "go.dedis.ch/pemilu/contracts/election/controller"
	pinata "go.dedis.ch/pemilu/ipfs/pinata/controller"
	proxy "go.dedis.ch/pemilu/proxy/http/controller"
	db "go.dedis.ch/pemilu/store/kv/controller"
)

type settings struct {
	Channel chan os.Signal
	Writer  io.Writer
}

func main() {
	err := run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	return runWithCfg(args, settings{})
}

// runWithCfg builds the application with the controllers in their start
// order: the settings first, then the components that depend on them.
func runWithCfg(args []string, cfg settings) error {
	builder := node.NewBuilderWithCfg(
		cfg.Channel,
		cfg.Writer,
		config.NewController(),
		db.NewController(),
		controller.NewController(),
		proxy.NewController(),
		pinata.NewController(),
		election.NewController(),
	)

	app := builder.Build()

	return app.Run(args)
}
