package node

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/cli"
	"go.dedis.ch/pemilu/cli/ucli"
	"golang.org/x/xerrors"
)

// DefaultConfigDir is the folder used to store the daemon socket, the
// database and the optional configuration file.
const DefaultConfigDir = ".pemilu"

// CLIBuilder is an application builder that will build a CLI to start and
// control the gateway daemon.
//
// - implements node.Builder
// - implements cli.Builder
type CLIBuilder struct {
	cli.Builder

	daemonFactory DaemonFactory
	injector      Injector
	actions       *actionMap
	startFlags    []cli.Flag
	inits         []Initializer
	writer        io.Writer

	// In production, the daemon is stopped via SIGTERM. In case of testing, the
	// channel will be filled instead.
	enableSignal bool
	sigs         chan os.Signal
}

// NewBuilder returns a new empty builder.
func NewBuilder(inits ...Initializer) *CLIBuilder {
	return NewBuilderWithCfg(nil, nil, inits...)
}

// NewBuilderWithCfg returns a new empty builder with specific configurations.
func NewBuilderWithCfg(sigs chan os.Signal, out io.Writer, inits ...Initializer) *CLIBuilder {
	if out == nil {
		out = os.Stdout
	}

	enabled := false

	if sigs == nil {
		sigs = make(chan os.Signal, 1)
		enabled = true
	}

	injector := NewInjector()

	actions := &actionMap{}

	factory := socketFactory{
		injector: injector,
		actions:  actions,
		out:      out,
	}

	builder := ucli.NewBuilder("pemilu", nil,
		cli.StringFlag{
			Name:  "config",
			Usage: "path to the config folder",
			Value: DefaultConfigDir,
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "level of the logs, overrides " + pemilu.EnvLogLevel,
		},
	)

	builder.(*ucli.Builder).SetUsage("REST gateway for the election smart contract",
		pemilu.Version)
	builder.(*ucli.Builder).SetBefore(setLogLevel)

	return &CLIBuilder{
		Builder:       builder,
		injector:      injector,
		actions:       actions,
		daemonFactory: factory,
		enableSignal:  enabled,
		sigs:          sigs,
		inits:         inits,
		writer:        out,
	}
}

// SetStartFlags implements node.Builder. It appends the given flags to the list
// of flags that will be used to create the start command.
func (b *CLIBuilder) SetStartFlags(flags ...cli.Flag) {
	b.startFlags = append(b.startFlags, flags...)
}

// MakeAction implements node.Builder. It registers the template and returns
// the CLI action that asks the daemon to execute it with the flags of the
// command line.
func (b *CLIBuilder) MakeAction(tmpl ActionTemplate) cli.Action {
	command := b.actions.Set(tmpl)

	return func(c cli.Flags) error {
		client, err := b.daemonFactory.ClientFromContext(c)
		if err != nil {
			return xerrors.Errorf("couldn't make client: %v", err)
		}

		req := request{
			Command: command,
			Flags:   make(FlagSet),
		}

		uctx, ok := c.(*urfave.Context)
		if ok {
			lookupFlags(req.Flags, uctx)
		}

		buf, err := json.Marshal(req)
		if err != nil {
			return xerrors.Errorf("failed to marshal request: %v", err)
		}

		err = client.Send(buf)
		if err != nil {
			return xerrors.Errorf("couldn't send action: %v", err)
		}

		return nil
	}
}

func setLogLevel(flags cli.Flags) error {
	name := flags.String("log-level")
	if name != "" {
		pemilu.Logger = pemilu.Logger.Level(pemilu.ParseLogLevel(name))
	}

	return nil
}

func lookupFlags(fset FlagSet, ctx *urfave.Context) {
	for _, ancestor := range ctx.Lineage() {
		if ancestor.Command != nil {
			fill(fset, ancestor.Command.Flags, ancestor)
		}

		if ancestor.App != nil {
			fill(fset, ancestor.App.Flags, ancestor)
		}
	}
}

func fill(fset FlagSet, flags []urfave.Flag, ctx *urfave.Context) {
	for _, flag := range flags {
		names := flag.Names()
		if len(names) == 0 {
			continue
		}

		// The deepest context wins as the lineage starts from the command
		// itself.
		_, found := fset[names[0]]
		if !found {
			fset[names[0]] = convert(ctx.Value(names[0]))
		}
	}
}

func convert(v interface{}) interface{} {
	switch value := v.(type) {
	case urfave.StringSlice:
		// StringSlice is an edge-case as it won't serialize correctly with JSON
		// so we ask for the actual []string to allow a correct serialization.
		return value.Value()
	case *urfave.StringSlice:
		if value == nil {
			return []string(nil)
		}

		return value.Value()
	default:
		return v
	}
}

// Build implements node.Builder. It returns the application.
func (b *CLIBuilder) Build() cli.Application {
	for _, controller := range b.inits {
		controller.SetCommands(b)
	}

	cmd := b.SetCommand("start")
	cmd.SetDescription("start the daemon and the components of the gateway")
	cmd.SetFlags(b.startFlags...)
	cmd.SetAction(b.start)

	return b.Builder.Build()
}

func (b *CLIBuilder) start(flags cli.Flags) error {
	if b.enableSignal {
		signal.Notify(b.sigs, syscall.SIGINT, syscall.SIGTERM)

		defer signal.Stop(b.sigs)
	}

	dir := flags.Path("config")
	if dir != "" {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			return xerrors.Errorf("couldn't make path: %v", err)
		}
	}

	daemon, err := b.daemonFactory.DaemonFromContext(flags)
	if err != nil {
		return xerrors.Errorf("couldn't make daemon: %v", err)
	}

	for _, controller := range b.inits {
		err = controller.OnStart(flags, b.injector)
		if err != nil {
			return xerrors.Errorf("couldn't run the controller: %v", err)
		}
	}

	// Daemon is started after the controllers so that everything has started
	// when the daemon is available.
	err = daemon.Listen()
	if err != nil {
		return xerrors.Errorf("couldn't start the daemon: %v", err)
	}

	defer daemon.Close()

	pemilu.Logger.Info().Str("config", dir).Msg("gateway is running")

	<-b.sigs

	// Controllers are stopped in reverse order so that the HTTP server stops
	// before the RPC client and the database it depends on.
	for i := len(b.inits) - 1; i >= 0; i-- {
		err = b.inits[i].OnStop(b.injector)
		if err != nil {
			return xerrors.Errorf("couldn't stop controller: %v", err)
		}
	}

	pemilu.Logger.Info().Msg("daemon has been stopped")

	return nil
}

// actionMap stores the templates of the actions. The position of a template
// is the command identifier shared by the client and the daemon.
type actionMap struct {
	list []ActionTemplate
}

func (m *actionMap) Set(a ActionTemplate) uint16 {
	m.list = append(m.list, a)
	return uint16(len(m.list) - 1)
}

func (m *actionMap) Get(command uint16) ActionTemplate {
	if int(command) >= len(m.list) {
		return nil
	}

	return m.list[command]
}

// Name returns a readable name of the command for the logs and the metrics.
func (m *actionMap) Name(command uint16) string {
	tmpl := m.Get(command)
	if tmpl == nil {
		return "unknown"
	}

	return fmt.Sprintf("%T", tmpl)
}
