package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one classidx subcommand.
type Command struct {
	// Flags holds the command's own flags. Its name is unused.
	Flags *flag.FlagSet

	// Usage follows "classidx" in help output and starts with the command
	// name, e.g. "filter check <file> <name>...".
	Usage string

	// Short is the one-line summary in the command listing.
	Short string

	// Long is the help body. Short is used when it is empty.
	Long string

	// MinArgs is the number of positional arguments Exec needs. Fewer
	// fail with ArgsErr before Exec runs.
	MinArgs int
	ArgsErr error

	// Exec runs with the positional arguments left after flag parsing.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name is the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine is the command's row in the global usage listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-34s %s", c.Usage, c.Short)
}

// PrintHelp writes "classidx <cmd> --help" output to stdout.
func (c *Command) PrintHelp(o *IO) {
	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Printf("Usage: classidx %s\n\n%s\n", c.Usage, desc)

	if c.Flags == nil || !c.Flags.HasFlags() {
		return
	}

	var buf strings.Builder

	c.Flags.SetOutput(&buf)
	c.Flags.PrintDefaults()
	o.Printf("\nFlags:\n%s", buf.String())
}

// Run parses args, executes the command and returns its exit code.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	rest, err := c.parse(args)
	if errors.Is(err, flag.ErrHelp) {
		c.PrintHelp(o)

		return 0
	}

	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return 1
	}

	err = c.Exec(ctx, o, rest)
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return o.Finish()
}

func (c *Command) parse(args []string) ([]string, error) {
	if c.Flags == nil {
		c.Flags = flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	}

	// pflag prints its own errors otherwise
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if err != nil {
		return nil, err
	}

	rest := c.Flags.Args()
	if len(rest) < c.MinArgs {
		argsErr := c.ArgsErr
		if argsErr == nil {
			argsErr = errMissingArgs
		}

		return nil, argsErr
	}

	return rest, nil
}
