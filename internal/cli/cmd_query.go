package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/classindex/internal/store"
)

var errMissingDB = errors.New("--db is required")

type queryOptions struct {
	db      string
	sources bool
	store.QueryOptions
}

func queryCmd(a *app) *Command {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)

	var opts queryOptions

	fs.StringVar(&opts.db, "db", "", "SQLite `file` written by scan --db")
	fs.BoolVar(&opts.sources, "sources", false, "Summarize recorded sources instead of listing classes")
	fs.StringVar(&opts.Prefix, "prefix", "", "Only classes whose internal name starts with `prefix`")
	fs.StringVar(&opts.Source, "source", "", "Only classes recorded for `path`")
	fs.StringVar(&opts.Digest, "digest", "", "Only classes with this BLAKE3 `hex` digest")
	fs.BoolVar(&opts.MatchedOnly, "matched", false, "Only classes the scan predicate matched")
	fs.IntVar(&opts.Limit, "limit", 0, "Return at most `n` classes (0 = all)")

	return &Command{
		Flags: fs,
		Usage: "query --db <file> [flags]",
		Short: "List classes recorded by scan --db",
		Long: `List classes recorded by "scan --db", ordered by class name.

Filters combine with AND. With --sources, print one summary per scanned
path instead.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execQuery(ctx, o, a, opts)
		},
	}
}

func execQuery(ctx context.Context, o *IO, a *app, opts queryOptions) error {
	if opts.db == "" {
		return errMissingDB
	}

	path := a.resolve(opts.db)

	_, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	db, err := store.Open(ctx, path)
	if err != nil {
		return err
	}

	defer func() { _ = db.Close() }()

	if opts.sources {
		summaries, err := db.Sources(ctx)
		if err != nil {
			return err
		}

		return encode(o.Writer(), a.cfg.Format, summaries)
	}

	classes, err := db.Query(ctx, opts.QueryOptions)
	if err != nil {
		return err
	}

	return encode(o.Writer(), a.cfg.Format, classes)
}
