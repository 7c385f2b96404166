// Package controller implements the controller that loads the settings of the
// gateway when the daemon starts.
package controller

import (
	"fmt"

	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/cli"
	"go.dedis.ch/pemilu/cli/node"
	"go.dedis.ch/pemilu/config"
	"golang.org/x/xerrors"
)

var loadFn = config.Load

// NewController returns a new controller initializer.
func NewController() node.Initializer {
	return controller{}
}

// controller is an initializer that loads the settings and injects them so
// that the other controllers can resolve them on start.
//
// - implements node.Initializer
type controller struct{}

// SetCommands implements node.Initializer. It sets the command to print the
// active settings.
func (controller) SetCommands(builder node.Builder) {
	cmd := builder.SetCommand("config")
	cmd.SetDescription("inspect the settings")

	sub := cmd.SetSubCommand("show")
	sub.SetDescription("print the active settings with the secrets masked")
	sub.SetAction(builder.MakeAction(showAction{}))
}

// OnStart implements node.Initializer. It loads the settings of the config
// folder and the environment.
func (controller) OnStart(flags cli.Flags, inj node.Injector) error {
	cfg, err := loadFn(flags.Path("config"))
	if err != nil {
		return xerrors.Errorf("failed to load settings: %v", err)
	}

	inj.Inject(cfg)

	safe := cfg.Safe()

	pemilu.Logger.Info().
		Str("rpc", safe.RPC.URL).
		Str("contract", safe.Contract.Address).
		Str("addr", safe.Proxy.Addr).
		Msg("settings loaded")

	return nil
}

// OnStop implements node.Initializer.
func (controller) OnStop(node.Injector) error {
	return nil
}

// showAction is an action to print the settings.
//
// - implements node.ActionTemplate
type showAction struct{}

// Execute implements node.ActionTemplate. It prints the YAML representation
// of the active settings.
func (showAction) Execute(ctx node.Context) error {
	var cfg config.Config

	err := ctx.Injector.Resolve(&cfg)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	data, err := cfg.Safe().Marshal()
	if err != nil {
		return xerrors.Errorf("failed to marshal: %v", err)
	}

	fmt.Fprint(ctx.Out, string(data))

	return nil
}
