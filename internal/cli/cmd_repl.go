package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/classindex/pkg/namefilter"
)

const replPrompt = "classidx> "

func replCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("repl", flag.ContinueOnError),
		Usage: "repl [filter-file]",
		Short: "Interactive ignore filter shell",
		Long: `Open an interactive shell over an ignore filter.

Commands:
  add <name>...     Add names
  check <name>...   Print "present" or "absent" per name
  clear             Remove every name; the next save replaces the file
  save [file]       Merge into the file, keeping names other writers added
                    (default: the file it was opened from)
  info              Print capacity and occupied slots
  help              Show this help
  exit / quit / q   Exit

History is kept in ~/.classidx_history when running on a terminal.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			path := ""
			if len(args) > 0 {
				path = a.resolve(args[0])
			}

			filter := a.newFilter()

			if path != "" {
				var err error

				filter, err = a.openFilter(path)
				if err != nil {
					return err
				}
			}

			prompter := a.prompter()
			defer prompter.Close()

			r := &repl{o: o, filter: filter, path: path, in: prompter, newFilter: a.newFilter}

			return r.run(ctx)
		},
	}
}

// prompter reads one line per prompt.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

// prompter returns a liner-backed prompter on a terminal stdin, and a plain
// line reader otherwise (pipes, tests).
func (a *app) prompter() prompter {
	if f, ok := a.stdin.(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
		return newLinerPrompter(a.env)
	}

	stdin := a.stdin
	if stdin == nil {
		stdin = strings.NewReader("")
	}

	return &linePrompter{scanner: bufio.NewScanner(stdin)}
}

type linerPrompter struct {
	state   *liner.State
	history string
}

func newLinerPrompter(env map[string]string) *linerPrompter {
	p := &linerPrompter{state: liner.NewLiner()}
	p.state.SetCtrlCAborts(true)
	p.state.SetCompleter(completeReplCommand)

	if home := env["HOME"]; home != "" {
		p.history = filepath.Join(home, ".classidx_history")
	}

	if p.history != "" {
		if f, err := os.Open(p.history); err == nil {
			_, _ = p.state.ReadHistory(f)
			_ = f.Close()
		}
	}

	return p
}

func (p *linerPrompter) Prompt(prompt string) (string, error) {
	line, err := p.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}

	return line, err
}

func (p *linerPrompter) AppendHistory(line string) {
	p.state.AppendHistory(line)
}

func (p *linerPrompter) Close() error {
	if p.history != "" {
		if f, err := os.Create(p.history); err == nil {
			_, _ = p.state.WriteHistory(f)
			_ = f.Close()
		}
	}

	return p.state.Close()
}

type linePrompter struct {
	scanner *bufio.Scanner
}

func (p *linePrompter) Prompt(string) (string, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}

		return "", io.EOF
	}

	return p.scanner.Text(), nil
}

func (*linePrompter) AppendHistory(string) {}

func (*linePrompter) Close() error { return nil }

var replCommands = []string{"add", "check", "clear", "save", "info", "help", "exit", "quit"}

func completeReplCommand(line string) []string {
	var out []string

	for _, c := range replCommands {
		if strings.HasPrefix(c, strings.ToLower(line)) {
			out = append(out, c)
		}
	}

	return out
}

type repl struct {
	o         *IO
	filter    *namefilter.Filter
	path      string
	in        prompter
	newFilter func() *namefilter.Filter

	// cleared is set by "clear" and reset by a successful save.
	cleared bool
}

func (r *repl) run(ctx context.Context) error {
	for ctx.Err() == nil {
		line, err := r.in.Prompt(replPrompt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.in.AppendHistory(line)

		parts := strings.Fields(line)
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			return nil
		case "help", "?":
			r.o.Println("commands: add <name>..., check <name>..., clear, save [file], info, exit")
		case "add":
			for _, name := range args {
				r.filter.Add(name)
			}

			r.o.Printf("added %d\n", len(args))
		case "check":
			for _, name := range args {
				r.o.Printf("%s\t%s\n", name, presence(r.filter.Contains(name)))
			}
		case "clear":
			r.filter.Clear()
			r.cleared = true
			r.o.Println("cleared")
		case "save":
			r.save(args)
		case "info":
			printFilterInfo(r.o, r.filter)
		default:
			r.o.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	return ctx.Err()
}

func (r *repl) save(args []string) {
	path := r.path
	if len(args) > 0 {
		path = args[0]
	}

	if path == "" {
		r.o.Println("save needs a file: save <file>")

		return
	}

	// Names other writers added since the file was read are kept, unless
	// the session cleared the filter.
	var saved *namefilter.Filter

	err := namefilter.Update(path, r.newFilter, func(disk *namefilter.Filter) error {
		if r.cleared {
			disk.Clear()
		}

		disk.Merge(r.filter)
		saved = disk

		return nil
	}, namefilter.LockTimeout(filterLockWait))
	if err != nil {
		r.o.Printf("save failed: %v\n", err)

		return
	}

	r.filter = saved
	r.cleared = false
	r.path = path
	r.o.Printf("saved %s\n", path)
}
