package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/classindex/pkg/namefilter"
)

var errUnknownSubcommand = errors.New("unknown filter subcommand")

// filterLockWait bounds how long a command waits for another process
// writing the same filter file.
const filterLockWait = 10 * time.Second

func filterCmd(a *app) *Command {
	return &Command{
		Flags:   flag.NewFlagSet("filter", flag.ContinueOnError),
		Usage:   "filter add|check|info <file> [name...]",
		MinArgs: 2,
		Short:   "Build and query ignore filter files",
		Long: `Build and query ignore filter files.

  filter add <file> <name>...     Add names, creating the file if needed
  filter check <file> <name>...   Print "present" or "absent" per name
  filter info <file>              Print capacity and occupied slots

Names are internal class names such as java/lang/String. A filter can report
a name it was never given (rarely), never the reverse.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			sub, path, names := args[0], a.resolve(args[1]), args[2:]

			switch sub {
			case "add":
				return execFilterAdd(o, a, path, names)
			case "check":
				return execFilterCheck(o, path, names)
			case "info":
				return execFilterInfo(o, path)
			default:
				return fmt.Errorf("%w: %s", errUnknownSubcommand, sub)
			}
		},
	}
}

func execFilterAdd(o *IO, a *app, path string, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: no names to add", errMissingArgs)
	}

	err := namefilter.Update(path, a.newFilter, func(filter *namefilter.Filter) error {
		for _, name := range names {
			filter.Add(name)
		}

		return nil
	}, namefilter.LockTimeout(filterLockWait))
	if err != nil {
		return err
	}

	o.Printf("added %d name(s) to %s\n", len(names), path)

	return nil
}

func execFilterCheck(o *IO, path string, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: no names to check", errMissingArgs)
	}

	filter, err := namefilter.LoadFile(path, namefilter.LockTimeout(filterLockWait))
	if err != nil {
		return err
	}

	for _, name := range names {
		o.Printf("%s\t%s\n", name, presence(filter.Contains(name)))
	}

	return nil
}

func execFilterInfo(o *IO, path string) error {
	filter, err := namefilter.LoadFile(path, namefilter.LockTimeout(filterLockWait))
	if err != nil {
		return err
	}

	printFilterInfo(o, filter)

	return nil
}

// openFilter loads path, or returns an empty filter when it does not exist.
func (a *app) openFilter(path string) (*namefilter.Filter, error) {
	filter, err := namefilter.LoadFile(path, namefilter.LockTimeout(filterLockWait))
	if errors.Is(err, os.ErrNotExist) {
		return a.newFilter(), nil
	}

	return filter, err
}

func printFilterInfo(o *IO, filter *namefilter.Filter) {
	occupied := filter.Len()

	o.Printf("capacity=%d\n", filter.Capacity())
	o.Printf("occupied=%d\n", occupied)
	o.Printf("load=%.4f\n", float64(occupied)/float64(filter.Capacity()))
}

func presence(ok bool) string {
	if ok {
		return "present"
	}

	return "absent"
}
