package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"slices"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/zeebo/blake3"

	"github.com/calvinalkan/classindex/internal/store"
	"github.com/calvinalkan/classindex/pkg/classindex"
	"github.com/calvinalkan/classindex/pkg/infocache"
	"github.com/calvinalkan/classindex/pkg/namefilter"
)

var errNoPredicate = errors.New("scan needs at least one of --extends, --implements or --annotated")

// defaultSharedPrefixes are platform packages: same definition everywhere.
var defaultSharedPrefixes = []string{"java/", "javax/", "jdk/", "sun/"}

// loadContext stands for one scanned source. Classes from different sources
// are cached under different scopes.
type loadContext struct {
	source string
}

type scanMatch struct {
	Class  string `json:"class"  yaml:"class"`
	Source string `json:"source" yaml:"source"`
	Scope  int32  `json:"scope"  yaml:"scope"`
}

type scanDuplicate struct {
	Class     string   `json:"class"     yaml:"class"`
	Digest    string   `json:"blake3"    yaml:"blake3"`
	Locations []string `json:"locations" yaml:"locations"`
}

type scanFailure struct {
	Location string `json:"location" yaml:"location"`
	Error    string `json:"error"    yaml:"error"`
}

type scanReport struct {
	Matches    []scanMatch      `json:"matches"              yaml:"matches"`
	Duplicates []scanDuplicate  `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
	Failures   []scanFailure    `json:"failures,omitempty"   yaml:"failures,omitempty"`
	Stats      classindex.Stats `json:"stats"                yaml:"stats"`
	Recorded   int              `json:"recorded,omitempty"   yaml:"recorded,omitempty"`
}

type scanOptions struct {
	extends    []string
	implements []string
	annotated  []string
	shared     []string
	saveFilter string
	db         string
}

func scanCmd(a *app) *Command {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)

	var opts scanOptions

	fs.StringSliceVar(&opts.extends, "extends", nil, "Match classes directly extending `class` (repeatable)")
	fs.StringSliceVar(&opts.implements, "implements", nil, "Match classes directly implementing `iface` (repeatable)")
	fs.StringSliceVar(&opts.annotated, "annotated", nil, "Match classes or members carrying `annotation` (repeatable)")
	fs.StringSliceVar(&opts.shared, "shared-prefix", defaultSharedPrefixes, "Package `prefix` whose classes are shared by every source")
	fs.StringVar(&opts.saveFilter, "save-filter", "", "Write the ignore filter to `file` after scanning")
	fs.StringVar(&opts.db, "db", "", "Record every classified class in the SQLite `file`")

	return &Command{
		Flags:   fs,
		Usage:   "scan [flags] <path>...",
		MinArgs: 1,
		ArgsErr: errMissingPath,
		Short:   "Classify classes against a predicate",
		Long: `Run every class through a classifier and report the matches.

Each path is its own loading context: the same class name in two paths is
parsed and decided twice. Classes under a --shared-prefix are decided once
for all paths, and the ones that do not match are added to the ignore
filter. The ignore filter is read from --filter (or "filter_path" in the
config) when that file exists.

Also reported: parse failures and classes whose bytes are identical in more
than one place (BLAKE3 digest).

With --db, every classified class is recorded per path, replacing what an
earlier scan recorded for the same path. Read it back with "query".`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execScan(ctx, o, a, opts, args)
		},
	}
}

func execScan(ctx context.Context, o *IO, a *app, opts scanOptions, paths []string) error {
	preds := make([]classindex.Predicate, 0, len(opts.extends)+len(opts.implements)+len(opts.annotated))
	for _, name := range opts.extends {
		preds = append(preds, classindex.Extends(name))
	}

	for _, name := range opts.implements {
		preds = append(preds, classindex.Implements(name))
	}

	for _, name := range opts.annotated {
		preds = append(preds, classindex.AnnotatedWith(name))
	}

	if len(preds) == 0 {
		return errNoPredicate
	}

	annotations := a.annotations()
	annotations.Add(opts.annotated...)

	ignore, err := a.loadIgnoreFilter(o)
	if err != nil {
		return err
	}

	shared := func(name string) bool {
		return slices.ContainsFunc(opts.shared, func(prefix string) bool {
			return strings.HasPrefix(name, prefix)
		})
	}

	var db *store.Store

	if opts.db != "" {
		db, err = store.Open(ctx, a.resolve(opts.db))
		if err != nil {
			return err
		}

		defer func() { _ = db.Close() }()

		a.log.Debug("recording scan", "db", db.Path())
	}

	classifier := classindex.New(classindex.Options[loadContext]{
		Predicate:        classindex.AnyOf(preds...),
		Shared:           shared,
		OutlineCapacity:  a.cfg.OutlineCapacity,
		DecisionCapacity: a.cfg.DecisionCapacity,
		FilterCapacity:   a.cfg.FilterCapacity,
		IndexSize:        a.cfg.IndexSize,
		Annotations:      annotations,
		Ignore:           ignore,
		Logger:           a.log,
	})

	report := scanReport{Matches: []scanMatch{}}
	digests := newDigestIndex()

	for _, path := range paths {
		lc := &loadContext{source: path}

		var recorded []store.Class

		err := walkClasses(ctx, a.resolve(path), func(e classEntry) error {
			digest := digests.add(e)

			decision, err := classifier.Classify(e.Name, lc, e.Bytes)
			if err != nil {
				report.Failures = append(report.Failures, scanFailure{Location: location(e), Error: err.Error()})
				o.Warn(location(e), err.Error())

				return nil
			}

			scopeID := classifier.ScopeID(lc)
			if shared(e.Name) {
				scopeID = infocache.AllScopes
			}

			if decision == classindex.Match {
				report.Matches = append(report.Matches, scanMatch{
					Class:  e.Name,
					Source: path,
					Scope:  scopeID,
				})
			}

			if db != nil {
				recorded = append(recorded, store.Class{
					Location: e.Location,
					Name:     e.Name,
					Scope:    scopeID,
					Matched:  decision == classindex.Match,
					Digest:   digest,
				})
			}

			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			o.Warn("skipped "+path, err.Error())
		}

		if db != nil && err == nil {
			n, err := db.Replace(ctx, path, recorded)
			if err != nil {
				return err
			}

			report.Recorded += n
		}

		a.log.Debug("scanned", "source", path, "matches", classifier.Matches(lc))
		classifier.Sweep()
	}

	report.Duplicates = digests.duplicates()
	report.Stats = classifier.Stats()

	if opts.saveFilter != "" {
		path := a.resolve(opts.saveFilter)
		if err := classifier.IgnoreFilter().SaveFile(path, namefilter.LockTimeout(filterLockWait)); err != nil {
			return err
		}
	}

	return encode(o.Writer(), a.cfg.Format, report)
}

// loadIgnoreFilter reads the configured filter file. A missing file starts
// empty; an unreadable one is a warning and also starts empty.
func (a *app) loadIgnoreFilter(o *IO) (*namefilter.Filter, error) {
	if a.cfg.FilterPathAbs == "" {
		return a.newFilter(), nil
	}

	filter, err := namefilter.LoadFile(a.cfg.FilterPathAbs, namefilter.LockTimeout(filterLockWait))

	switch {
	case err == nil:
		a.log.Debug("loaded ignore filter", "path", a.cfg.FilterPathAbs, "names", filter.Len())

		return filter, nil
	case errors.Is(err, os.ErrNotExist):
		return a.newFilter(), nil
	case errors.Is(err, namefilter.ErrBadMagic), errors.Is(err, namefilter.ErrCorrupt):
		o.Warn("ignoring filter file", err.Error())

		return a.newFilter(), nil
	default:
		return nil, err
	}
}

// newFilter returns an empty filter sized by the config.
func (a *app) newFilter() *namefilter.Filter {
	capacity := a.cfg.FilterCapacity
	if capacity == 0 {
		capacity = classindex.DefaultFilterCapacity
	}

	return namefilter.New(capacity)
}

func location(e classEntry) string {
	if e.Location == e.Source {
		return e.Source
	}

	return e.Source + "!" + e.Location
}

// digestIndex groups class locations by content digest.
type digestIndex struct {
	order  [][32]byte
	byHash map[[32]byte]*scanDuplicate
}

func newDigestIndex() *digestIndex {
	return &digestIndex{byHash: make(map[[32]byte]*scanDuplicate)}
}

// add records e and returns its hex digest.
func (d *digestIndex) add(e classEntry) string {
	sum := blake3.Sum256(e.Bytes)

	dup, ok := d.byHash[sum]
	if !ok {
		dup = &scanDuplicate{Class: e.Name, Digest: hex.EncodeToString(sum[:])}
		d.byHash[sum] = dup
		d.order = append(d.order, sum)
	}

	dup.Locations = append(dup.Locations, location(e))

	return dup.Digest
}

func (d *digestIndex) duplicates() []scanDuplicate {
	var out []scanDuplicate

	for _, sum := range d.order {
		if dup := d.byHash[sum]; len(dup.Locations) > 1 {
			out = append(out, *dup)
		}
	}

	return out
}
