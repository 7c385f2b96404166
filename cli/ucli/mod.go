// Package ucli implements the cli builder on top of urfave/cli.
package ucli

import (
	"fmt"

	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/pemilu/cli"
)

// Builder builds a urfave application out of the commands declared by the
// controllers.
//
// - implements cli.Builder
type Builder struct {
	name     string
	usage    string
	version  string
	action   cli.Action
	before   cli.Action
	flags    []cli.Flag
	commands []*cmdBuilder
}

// NewBuilder returns a builder of an application with the given name. The
// action runs when no command is given and can be nil. The flags are global
// and available to every command.
func NewBuilder(name string, action cli.Action, flags ...cli.Flag) cli.Builder {
	return &Builder{
		name:   name,
		action: action,
		flags:  flags,
	}
}

// SetUsage sets the one-line description and the version printed by the
// help of the application.
func (b *Builder) SetUsage(usage, version string) {
	b.usage = usage
	b.version = version
}

// SetBefore sets an action that runs once the global flags are parsed and
// before the command.
func (b *Builder) SetBefore(action cli.Action) {
	b.before = action
}

// SetCommand implements cli.Builder.
func (b *Builder) SetCommand(name string) cli.CommandBuilder {
	cmd := &cmdBuilder{name: name}
	b.commands = append(b.commands, cmd)

	return cmd
}

// Build implements cli.Builder.
func (b *Builder) Build() cli.Application {
	app := &urfave.App{
		Name:     b.name,
		Usage:    b.usage,
		Version:  b.version,
		Flags:    convertFlags(b.flags),
		Action:   wrap(b.action),
		Before:   urfave.BeforeFunc(wrap(b.before)),
		Commands: convertCommands(b.commands),
	}

	app.Setup()

	return app
}

// cmdBuilder collects the definition of a command.
//
// - implements cli.CommandBuilder
type cmdBuilder struct {
	name        string
	description string
	action      cli.Action
	flags       []cli.Flag
	subcommands []*cmdBuilder
}

// SetDescription implements cli.CommandBuilder.
func (b *cmdBuilder) SetDescription(value string) {
	b.description = value
}

// SetFlags implements cli.CommandBuilder. It replaces the flags of the
// command.
func (b *cmdBuilder) SetFlags(flags ...cli.Flag) {
	b.flags = flags
}

// SetAction implements cli.CommandBuilder.
func (b *cmdBuilder) SetAction(action cli.Action) {
	b.action = action
}

// SetSubCommand implements cli.CommandBuilder.
func (b *cmdBuilder) SetSubCommand(name string) cli.CommandBuilder {
	sub := &cmdBuilder{name: name}
	b.subcommands = append(b.subcommands, sub)

	return sub
}

func convertCommands(cmds []*cmdBuilder) []*urfave.Command {
	res := make([]*urfave.Command, 0, len(cmds))

	for _, cmd := range cmds {
		res = append(res, &urfave.Command{
			Name:        cmd.name,
			Usage:       cmd.description,
			Flags:       convertFlags(cmd.flags),
			Action:      wrap(cmd.action),
			Subcommands: convertCommands(cmd.subcommands),
		})
	}

	return res
}

func convertFlags(flags []cli.Flag) []urfave.Flag {
	res := make([]urfave.Flag, 0, len(flags))

	for _, f := range flags {
		res = append(res, convertFlag(f))
	}

	return res
}

// convertFlag returns the urfave definition of a flag. It panics with an
// unknown flag type as it is a mistake of the controller.
func convertFlag(f cli.Flag) urfave.Flag {
	switch e := f.(type) {
	case cli.StringFlag:
		return &urfave.StringFlag{Name: e.Name, Usage: e.Usage, Required: e.Required, Value: e.Value}
	case cli.StringSliceFlag:
		return &urfave.StringSliceFlag{Name: e.Name, Usage: e.Usage, Required: e.Required,
			Value: urfave.NewStringSlice(e.Value...)}
	case cli.DurationFlag:
		return &urfave.DurationFlag{Name: e.Name, Usage: e.Usage, Required: e.Required, Value: e.Value}
	case cli.IntFlag:
		return &urfave.IntFlag{Name: e.Name, Usage: e.Usage, Required: e.Required, Value: e.Value}
	case cli.Uint64Flag:
		return &urfave.Uint64Flag{Name: e.Name, Usage: e.Usage, Required: e.Required, Value: e.Value}
	case cli.BoolFlag:
		return &urfave.BoolFlag{Name: e.Name, Usage: e.Usage, Required: e.Required, Value: e.Value}
	default:
		panic(fmt.Sprintf("flag type '%T' not supported", f))
	}
}

// wrap returns the urfave form of the action, or nil.
func wrap(action cli.Action) urfave.ActionFunc {
	if action == nil {
		return nil
	}

	return func(ctx *urfave.Context) error {
		return action(ctx)
	}
}
