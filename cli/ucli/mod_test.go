package ucli

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/pemilu/cli"
	"go.dedis.ch/pemilu/internal/testing/fake"
)

func TestBuilder_Build(t *testing.T) {
	builder := NewBuilder("test", nil, cli.StringFlag{Name: "config", Value: "cfg"})
	builder.(*Builder).SetUsage("test application", "v1.0.0")

	app := builder.Build().(*urfave.App)
	app.Writer = io.Discard

	require.Equal(t, "test", app.Name)
	require.Equal(t, "test application", app.Usage)
	require.Equal(t, "v1.0.0", app.Version)
	require.Len(t, app.Flags, 1)

	err := app.Run([]string{"test"})
	require.NoError(t, err)
}

func TestBuilder_Before_Build(t *testing.T) {
	builder := NewBuilder("test", nil, cli.StringFlag{Name: "level"}).(*Builder)

	var level string
	builder.SetBefore(func(flags cli.Flags) error {
		level = flags.String("level")
		return nil
	})

	called := false
	builder.SetCommand("run").SetAction(func(cli.Flags) error {
		called = true
		return nil
	})

	err := builder.Build().Run([]string{"test", "--level", "debug", "run"})
	require.NoError(t, err)
	require.Equal(t, "debug", level)
	require.True(t, called)

	builder.SetBefore(func(cli.Flags) error {
		return fake.GetError()
	})

	app := builder.Build().(*urfave.App)
	app.Writer = io.Discard
	app.ErrWriter = io.Discard

	err = app.Run([]string{"test", "run"})
	require.Equal(t, fake.GetError(), err)
}

func TestBuilder_SetCommand(t *testing.T) {
	builder := NewBuilder("test", nil)

	builder.SetCommand("first")
	builder.SetCommand("second")

	app := builder.Build().(*urfave.App)

	require.Len(t, app.Commands, 3)
	require.Equal(t, "first", app.Commands[0].Name)
	require.Equal(t, "second", app.Commands[1].Name)
	require.Equal(t, "help", app.Commands[2].Name)
}

func TestCommandBuilder(t *testing.T) {
	builder := NewBuilder("test", nil).(*Builder)
	cmd := builder.SetCommand("election")

	cmd.SetAction(func(cli.Flags) error { return nil })
	cmd.SetDescription("inspect the election")
	cmd.SetFlags(cli.StringFlag{
		Name:     "contract",
		Usage:    "address of the contract",
		Required: true,
		Value:    "0x00",
	})
	cmd.SetSubCommand("info").SetDescription("print a summary")

	require.Len(t, builder.commands, 1)
	require.Len(t, builder.flags, 0)

	app := builder.Build().(*urfave.App)
	require.Equal(t, "inspect the election", app.Commands[0].Usage)
	require.Len(t, app.Commands[0].Flags, 1)
	require.Len(t, app.Commands[0].Subcommands, 1)
	require.Equal(t, "print a summary", app.Commands[0].Subcommands[0].Usage)
}

func TestConvertFlags(t *testing.T) {
	in := []cli.Flag{
		cli.StringFlag{Name: "name1", Usage: "usage1", Required: true, Value: "value1"},
		cli.StringSliceFlag{Name: "name2", Usage: "usage2", Value: []string{"a"}},
		cli.DurationFlag{Name: "name3", Usage: "usage3", Value: time.Minute},
		cli.IntFlag{Name: "name4", Usage: "usage4", Value: 1},
		cli.BoolFlag{Name: "name5", Usage: "usage5", Value: true},
		cli.Uint64Flag{Name: "name6", Usage: "usage6", Value: 12},
	}

	out := convertFlags(in)
	require.Len(t, out, 6)

	for i, name := range []string{"name1", "name2", "name3", "name4", "name5", "name6"} {
		require.Equal(t, name, out[i].Names()[0])
	}

	require.True(t, out[0].(*urfave.StringFlag).Required)
	require.Equal(t, []string{"a"}, out[1].(*urfave.StringSliceFlag).Value.Value())
	require.Equal(t, time.Minute, out[2].(*urfave.DurationFlag).Value)
	require.Equal(t, uint64(12), out[5].(*urfave.Uint64Flag).Value)
}

func TestConvertFlag_Panic(t *testing.T) {
	defer func() {
		r := recover()
		require.Equal(t, "flag type '<nil>' not supported", r)
	}()

	convertFlag(nil)
}

func TestWrap(t *testing.T) {
	require.Nil(t, wrap(nil))

	called := false
	res := wrap(func(flags cli.Flags) error {
		require.Nil(t, flags)
		called = true
		return nil
	})

	require.NoError(t, res(nil))
	require.True(t, called)
}
