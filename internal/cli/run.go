// Package cli implements the classidx command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/classindex/internal/config"
	"github.com/calvinalkan/classindex/pkg/classfile"
)

const helpFlag = "--help"

var (
	errUnknownCommand = errors.New("unknown command")
	errMissingPath    = errors.New("at least one path is required")
	errMissingArgs    = errors.New("missing arguments")
)

// app is what every command gets: resolved config, logger and the raw
// process inputs.
type app struct {
	cfg   config.Config
	log   *slog.Logger
	stdin io.Reader
	env   map[string]string
}

// annotations returns a fresh annotation set holding the configured names.
func (a *app) annotations() *classfile.Annotations {
	return classfile.NewAnnotations(a.cfg.Annotations...)
}

type globalFlags struct {
	fs         *flag.FlagSet
	workDir    string
	configPath string
	verbose    bool
	overrides  config.Overrides
}

func newGlobalFlags() *globalFlags {
	g := &globalFlags{fs: flag.NewFlagSet("classidx", flag.ContinueOnError)}

	g.fs.SetInterspersed(false)
	g.fs.SetOutput(&strings.Builder{})

	g.fs.StringVarP(&g.workDir, "cwd", "C", "", "Run as if started in `dir`")
	g.fs.StringVarP(&g.configPath, "config", "c", "", "Use specified config `file`")
	g.fs.BoolVarP(&g.verbose, "verbose", "v", false, "Log debug records to stderr")
	g.fs.StringVarP(&g.overrides.Format, "format", "f", "", "Output format: json, yaml or cbor")
	g.fs.StringSliceVarP(&g.overrides.Annotations, "annotation", "a", nil, "Annotation of interest, internal name (repeatable)")
	g.fs.StringVar(&g.overrides.FilterPath, "filter", "", "Ignore filter `file` used by scan")
	g.fs.IntVar(&g.overrides.OutlineCapacity, "outline-capacity", 0, "Outline cache capacity")
	g.fs.IntVar(&g.overrides.DecisionCapacity, "decision-capacity", 0, "Decision cache capacity")
	g.fs.IntVar(&g.overrides.FilterCapacity, "filter-capacity", 0, "Ignore filter capacity")
	g.fs.IntVar(&g.overrides.IndexSize, "index-size", 0, "Scope index slots")

	return g
}

// Run is the main entry point. Returns exit code. A value received on
// sigCh cancels the running command.
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := newGlobalFlags()

	if len(args) > 0 {
		args = args[1:]
	}

	err := globals.fs.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, commands(nil), globals)

			return 0
		}

		fprintln(errOut, "error:", err)

		return 1
	}

	rest := globals.fs.Args()
	if len(rest) == 0 || rest[0] == "-h" || rest[0] == helpFlag || rest[0] == "help" {
		printUsage(out, commands(nil), globals)

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: globals.workDir,
		ConfigPath:      globals.configPath,
		Overrides:       globals.overrides,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	level := slog.LevelWarn
	if globals.verbose {
		level = slog.LevelDebug
	}

	a := &app{
		cfg:   cfg,
		log:   slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})),
		stdin: stdin,
		env:   env,
	}

	var cmd *Command

	for _, c := range commands(a) {
		if c.Name() == rest[0] {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", errUnknownCommand, rest[0]))
		printUsage(errOut, commands(nil), globals)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(out, errOut), rest[1:])
}

// commands lists every command. a may be nil when only help is needed.
func commands(a *app) []*Command {
	return []*Command{
		headerCmd(a),
		outlineCmd(a),
		scanCmd(a),
		queryCmd(a),
		filterCmd(a),
		replCmd(a),
		printConfigCmd(a),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, cmds []*Command, globals *globalFlags) {
	fprintln(w, `classidx - inspect, index and filter JVM class files

Usage: classidx [options] <command> [args]

Options:`)

	var buf strings.Builder

	globals.fs.SetOutput(&buf)
	globals.fs.PrintDefaults()
	_, _ = io.WriteString(w, buf.String())

	if len(cmds) == 0 {
		return
	}

	fprintln(w, "\nCommands:")

	for _, c := range cmds {
		fprintln(w, c.HelpLine())
	}
}
