package node

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/pemilu"
	"go.dedis.ch/pemilu/cli"
	"go.dedis.ch/pemilu/internal/testing/fake"
)

func TestCLIBuilder_SetStartFlags(t *testing.T) {
	builder := NewBuilder()

	builder.SetStartFlags(cli.StringFlag{}, cli.IntFlag{})
	builder.SetStartFlags(cli.Uint64Flag{})
	require.Len(t, builder.startFlags, 3)
}

func TestCLIBuilder_Start(t *testing.T) {
	dir, err := os.MkdirTemp(os.TempDir(), "pemilu-node")
	require.NoError(t, err)

	defer os.RemoveAll(dir)

	flags := FlagSet{"config": dir}

	builder := NewBuilderWithCfg(make(chan os.Signal, 1), nil, fakeInitializer{})
	builder.daemonFactory = fakeFactory{}
	builder.sigs <- syscall.SIGTERM

	err = builder.start(flags)
	require.NoError(t, err)

	builder.daemonFactory = fakeFactory{err: fake.GetError()}
	err = builder.start(flags)
	require.EqualError(t, err, fake.Err("couldn't make daemon"))

	builder.daemonFactory = fakeFactory{errDaemon: fake.GetError()}
	err = builder.start(flags)
	require.EqualError(t, err, fake.Err("couldn't start the daemon"))
}

func TestCLIBuilder_BadPath_Start(t *testing.T) {
	dir, err := os.MkdirTemp(os.TempDir(), "pemilu-node")
	require.NoError(t, err)

	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	builder := NewBuilderWithCfg(make(chan os.Signal, 1), nil)

	err = builder.start(FlagSet{"config": filepath.Join(file, "sub")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't make path: ")
}

func TestCLIBuilder_FailController_Start(t *testing.T) {
	flags := FlagSet{}

	builder := NewBuilderWithCfg(make(chan os.Signal, 1), nil,
		fakeInitializer{err: fake.GetError()})
	builder.daemonFactory = fakeFactory{}

	err := builder.start(flags)
	require.EqualError(t, err, fake.Err("couldn't run the controller"))

	builder = NewBuilderWithCfg(make(chan os.Signal, 1), nil,
		fakeInitializer{errStop: fake.GetError()})
	builder.daemonFactory = fakeFactory{}
	builder.sigs <- syscall.SIGTERM

	err = builder.start(flags)
	require.EqualError(t, err, fake.Err("couldn't stop controller"))
}

func TestCLIBuilder_MakeAction(t *testing.T) {
	calls := &fake.Call{}
	builder := &CLIBuilder{
		actions:       &actionMap{},
		daemonFactory: fakeFactory{calls: calls},
	}

	fset := flag.NewFlagSet("", 0)
	fset.Var(urfave.NewStringSlice("item 1", "item 2"), "flag-1", "")
	fset.Int("flag-2", 20, "")

	ctx := urfave.NewContext(makeApp(), fset, nil)

	err := builder.MakeAction(fakeAction{})(ctx)
	require.NoError(t, err)

	data := string(calls.Get(0, 0).([]byte))
	require.Equal(t, `{"command":0,"flags":{"flag-1":["item 1","item 2"],"flag-2":20}}`, data)

	builder.daemonFactory = fakeFactory{err: fake.GetError()}
	err = builder.MakeAction(fakeAction{})(ctx)
	require.EqualError(t, err, fake.Err("couldn't make client"))

	builder.daemonFactory = fakeFactory{errClient: fake.GetError()}
	err = builder.MakeAction(fakeAction{})(ctx)
	require.EqualError(t, err, fake.Err("couldn't send action"))
}

func TestCLIBuilder_Build(t *testing.T) {
	out := new(bytes.Buffer)

	builder := NewBuilderWithCfg(make(chan os.Signal, 1), out, fakeInitializer{})

	cb := builder.SetCommand("test")
	cb.SetDescription("test description")
	cb.SetAction(builder.MakeAction(fakeAction{}))
	cb.SetFlags(cli.StringFlag{Name: "string-flag"})

	sub := cb.SetSubCommand("subtest")
	sub.SetDescription("subtest description")
	sub.SetFlags(cli.DurationFlag{Name: "a"}, cli.IntFlag{Name: "b"},
		cli.StringSliceFlag{Name: "c"})

	app := builder.Build().(*urfave.App)
	require.Equal(t, "pemilu", app.Name)

	names := make([]string, 0, len(app.Commands))
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}

	require.Contains(t, names, "test")
	require.Contains(t, names, "start")
}

func TestSetLogLevel(t *testing.T) {
	logger := pemilu.Logger
	defer func() { pemilu.Logger = logger }()

	require.NoError(t, setLogLevel(FlagSet{}))
	require.Equal(t, logger.GetLevel(), pemilu.Logger.GetLevel())

	require.NoError(t, setLogLevel(FlagSet{"log-level": "error"}))
	require.Equal(t, zerolog.ErrorLevel, pemilu.Logger.GetLevel())
}

func TestActionMap(t *testing.T) {
	actions := &actionMap{}

	require.Equal(t, uint16(0), actions.Set(fakeAction{}))
	require.Equal(t, uint16(1), actions.Set(fakeAction{}))
	require.NotNil(t, actions.Get(1))
	require.Nil(t, actions.Get(2))
	require.Equal(t, "node.fakeAction", actions.Name(1))
	require.Equal(t, "unknown", actions.Name(2))
}

// -----------------------------------------------------------------------------
// Utility functions

func makeApp() *urfave.App {
	return &urfave.App{
		Flags: []urfave.Flag{
			&urfave.StringSliceFlag{Name: "flag-1"},
			&urfave.IntFlag{Name: "flag-2"},
		},
	}
}
