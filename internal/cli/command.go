package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/recstore/pkg/recstore"
)

// exitInterrupted is returned when a signal cancels a running command.
const exitInterrupted = 130

// Command is one recstore subcommand.
type Command struct {
	// Flags holds the command flags. Parse errors are reported by Run.
	Flags *flag.FlagSet

	// Usage follows "recstore" in help output and starts with the command
	// name, e.g. "get [--hex] <key>".
	Usage string

	// Short is the line shown in the command listing.
	Short string

	// Long is shown by "recstore <cmd> --help". Short is used when empty.
	Long string

	// NoArgs rejects positional arguments before Exec runs.
	NoArgs bool

	// Exec runs the command with the positional arguments left after flag
	// parsing.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name is the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine is the command's row in the command listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-34s %s", c.Usage, c.Short)
}

// PrintHelp writes the usage, description and flags of the command.
func (c *Command) PrintHelp(o *IO) {
	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println("Usage: recstore", c.Usage)
	o.Println()
	o.Println(desc)

	if c.Flags == nil || !c.Flags.HasFlags() {
		return
	}

	var buf strings.Builder
	c.Flags.SetOutput(&buf)
	c.Flags.PrintDefaults()

	o.Println()
	o.Println("Flags:")
	o.Printf("%s", buf.String())
}

// Run parses args, runs Exec and returns the exit code.
//
// Errors go to stderr, followed by a hint line when the error is one a
// maintenance command can resolve. Warnings collected by Exec make an
// otherwise successful run exit with 1.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	if c.Flags == nil {
		c.Flags = flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	}

	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		c.PrintHelp(o)

		return 0
	}

	if err == nil && c.NoArgs && c.Flags.NArg() > 0 {
		err = fmt.Errorf("%w: %s", ErrTooManyArgs, strings.Join(c.Flags.Args(), " "))
	}

	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())

	switch {
	case err == nil:
		return o.Finish()
	case errors.Is(err, context.Canceled):
		o.ErrPrintln("error: interrupted")

		return exitInterrupted
	}

	o.ErrPrintln("error:", err)

	hint := recoveryHint(err)
	if hint != "" {
		o.ErrPrintln("hint:", hint)
	}

	return 1
}

// recoveryHint names the command that resolves err, if any.
func recoveryHint(err error) string {
	switch {
	case errors.Is(err, recstore.ErrIncompatible):
		return `open with the sizing the store was created with, or copy it with "recstore resize"`
	case errors.Is(err, recstore.ErrCorrupt):
		return `run "recstore verify", then "recstore rebuild --force"`
	case errors.Is(err, recstore.ErrFull):
		return `delete records or copy the store with "recstore resize --records <n>"`
	case errors.Is(err, recstore.ErrTooLarge):
		return `copy the store with "recstore resize --record-size <n>"`
	default:
		return ""
	}
}
