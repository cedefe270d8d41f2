// Package classindex answers "is this class interesting?" for classes as
// they are defined, without parsing the same bytes twice per scope.
//
// A [Classifier] ties the other packages together:
//
//   - a [namefilter.Filter] of names known to be uninteresting everywhere,
//   - an [infocache.Cache] of decisions and one of parsed outlines, both
//     partitioned by the scope id of the defining context,
//   - a [scope.Index] that turns context pointers into those ids.
//
// Nothing runs in the background. Call [Classifier.Sweep] periodically to
// release entries held for contexts that no longer exist.
package classindex

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/calvinalkan/classindex/pkg/classfile"
	"github.com/calvinalkan/classindex/pkg/infocache"
	"github.com/calvinalkan/classindex/pkg/namefilter"
	"github.com/calvinalkan/classindex/pkg/scope"
)

// Decision is the outcome of [Classifier.Classify].
type Decision uint8

const (
	// NoMatch means the predicate rejected the class.
	NoMatch Decision = iota + 1

	// Match means the predicate accepted the class.
	Match

	// Ignored means the name was in the ignore filter and nothing was parsed.
	Ignored
)

func (d Decision) String() string {
	switch d {
	case NoMatch:
		return "no-match"
	case Match:
		return "match"
	case Ignored:
		return "ignored"
	default:
		return fmt.Sprintf("Decision(%d)", uint8(d))
	}
}

// Options configures a [Classifier]. The zero value is usable: it matches
// nothing and uses default capacities.
type Options[L any] struct {
	// System is the application context. It is pre-assigned a fixed scope
	// id and never tracked for reclamation.
	System *L

	// Predicate decides matches. Nil matches nothing.
	Predicate Predicate

	// Shared reports names whose definition does not depend on the
	// defining context, for example platform classes. Their outlines and
	// decisions are cached for all scopes, and negative decisions are added
	// to the ignore filter. Classes of the nil context are always shared.
	Shared func(name string) bool

	// Capacities, clamped by each structure. Zero picks a default.
	OutlineCapacity  int
	DecisionCapacity int
	FilterCapacity   int
	IndexSize        int

	// Annotations lists the annotations outlines should report. Nil uses
	// [classfile.DefaultAnnotations].
	Annotations *classfile.Annotations

	// Ignore is a pre-built filter, typically loaded with
	// [namefilter.LoadFile]. Nil starts with an empty one.
	Ignore *namefilter.Filter

	// Logger receives debug records for parse failures and sweeps.
	// Nil discards.
	Logger *slog.Logger
}

// Default capacities.
const (
	DefaultOutlineCapacity  = 4096
	DefaultDecisionCapacity = 1 << 14
	DefaultFilterCapacity   = 1 << 16
)

// Classifier is safe for concurrent use. L is the type of the loading
// context; only pointer identity is used.
type Classifier[L any] struct {
	predicate Predicate
	shared    func(string) bool
	parser    *classfile.Parser
	log       *slog.Logger

	index     *scope.Index[L]
	decisions *infocache.Cache[Decision]
	outlines  *infocache.Cache[*classfile.Outline]
	ignore    *namefilter.Filter
	matches   *scope.Value[L, *atomic.Int64]

	stats counters
}

type counters struct {
	classified    atomic.Int64
	ignored       atomic.Int64
	decisionHits  atomic.Int64
	outlineHits   atomic.Int64
	parsed        atomic.Int64
	parseFailures atomic.Int64
	matched       atomic.Int64
	released      atomic.Int64
}

// New returns a classifier configured by opts.
func New[L any](opts Options[L]) *Classifier[L] {
	annotations := opts.Annotations
	if annotations == nil {
		annotations = classfile.DefaultAnnotations
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	ignore := opts.Ignore
	if ignore == nil {
		ignore = namefilter.New(orDefault(opts.FilterCapacity, DefaultFilterCapacity))
	}

	indexOpts := []scope.Option{}
	if opts.IndexSize > 0 {
		indexOpts = append(indexOpts, scope.WithSize(opts.IndexSize))
	}

	c := &Classifier[L]{
		predicate: opts.Predicate,
		shared:    opts.Shared,
		parser:    classfile.NewParser(annotations),
		log:       log,
		index:     scope.NewIndex(opts.System, indexOpts...),
		decisions: infocache.New[Decision](orDefault(opts.DecisionCapacity, DefaultDecisionCapacity)),
		outlines:  infocache.New[*classfile.Outline](orDefault(opts.OutlineCapacity, DefaultOutlineCapacity)),
		ignore:    ignore,
		matches: scope.NewValue(opts.System, func(*L) *atomic.Int64 {
			return new(atomic.Int64)
		}),
	}

	if c.predicate == nil {
		c.predicate = matchNone
	}

	c.index.OnStale(func(id int32) {
		c.stats.released.Add(1)
		c.log.Debug("scope released", "scope", id)
	})

	return c
}

// Classify decides whether the class name, defined by ctx from bytecode, is
// of interest. Results are cached per scope; bytecode is only parsed when
// neither a decision nor an outline is cached.
//
// A malformed class returns an error wrapping [classfile.ErrMalformed]. Such
// results are never cached.
func (c *Classifier[L]) Classify(name string, ctx *L, bytecode []byte) (Decision, error) {
	c.stats.classified.Add(1)

	if c.ignore.Contains(name) {
		c.stats.ignored.Add(1)

		return Ignored, nil
	}

	id := c.scopeOf(name, ctx)

	if decision, ok := c.decisions.Find(name, id); ok {
		c.stats.decisionHits.Add(1)
		c.count(ctx, decision)

		return decision, nil
	}

	outline, err := c.outline(name, id, bytecode)
	if err != nil {
		return 0, err
	}

	decision := NoMatch
	if c.predicate(outline) {
		decision = Match
	}

	c.decisions.Share(name, decision, id)

	if decision == NoMatch && id == infocache.AllScopes {
		c.ignore.Add(name)
	}

	c.count(ctx, decision)

	return decision, nil
}

// Outline returns the outline of name as defined by ctx, parsing bytecode
// only on a cache miss.
func (c *Classifier[L]) Outline(name string, ctx *L, bytecode []byte) (*classfile.Outline, error) {
	return c.outline(name, c.scopeOf(name, ctx), bytecode)
}

func (c *Classifier[L]) outline(name string, id int32, bytecode []byte) (*classfile.Outline, error) {
	if outline, ok := c.outlines.Find(name, id); ok {
		c.stats.outlineHits.Add(1)

		return outline, nil
	}

	outline, err := c.parser.Outline(bytecode, 0)
	if err != nil {
		c.stats.parseFailures.Add(1)
		c.log.Debug("parse failed", "class", name, "scope", id, "error", err)

		return nil, fmt.Errorf("classifying %s: %w", name, err)
	}

	c.stats.parsed.Add(1)
	c.outlines.Share(name, outline, id)

	return outline, nil
}

// scopeOf returns the cache partition for name defined by ctx.
func (c *Classifier[L]) scopeOf(name string, ctx *L) int32 {
	if ctx == nil || (c.shared != nil && c.shared(name)) {
		return infocache.AllScopes
	}

	return c.index.IDOf(ctx)
}

func (c *Classifier[L]) count(ctx *L, decision Decision) {
	if decision != Match {
		return
	}

	c.stats.matched.Add(1)
	c.matches.Get(ctx).Add(1)
}

// Matches returns how many Match decisions were returned for ctx.
func (c *Classifier[L]) Matches(ctx *L) int64 {
	return c.matches.Get(ctx).Load()
}

// ScopeID returns the id ctx is currently cached under, minting one if
// needed.
func (c *Classifier[L]) ScopeID(ctx *L) int32 {
	return c.index.IDOf(ctx)
}

// Sweep releases a bounded number of entries held for contexts that were
// reclaimed, and returns how many scope ids were released. Cached
// decisions and outlines for a released id are not removed; they age out
// through eviction.
func (c *Classifier[L]) Sweep() int {
	released := c.index.Sweep()
	dropped := c.matches.RemoveStale()

	if released > 0 || dropped > 0 {
		c.log.Debug("swept", "scopes", released, "counters", dropped, "pending", c.index.Pending())
	}

	return released
}

// Reset drops every cached decision and outline and empties the ignore
// filter. Scope ids and match counters are kept.
func (c *Classifier[L]) Reset() {
	c.decisions.Clear()
	c.outlines.Clear()
	c.ignore.Clear()
}

// IgnoreFilter returns the filter of names known to be uninteresting. It is
// live; save it with [namefilter.Filter.SaveFile] to reuse it in a later run.
func (c *Classifier[L]) IgnoreFilter() *namefilter.Filter {
	return c.ignore
}

// Stats is a snapshot of classifier counters.
type Stats struct {
	Classified    int64 `json:"classified" yaml:"classified"`
	Ignored       int64 `json:"ignored" yaml:"ignored"`
	DecisionHits  int64 `json:"decision_hits" yaml:"decision_hits"`
	OutlineHits   int64 `json:"outline_hits" yaml:"outline_hits"`
	Parsed        int64 `json:"parsed" yaml:"parsed"`
	ParseFailures int64 `json:"parse_failures" yaml:"parse_failures"`
	Matched       int64 `json:"matched" yaml:"matched"`
	Released      int64 `json:"released_scopes" yaml:"released_scopes"`
	LiveScopes    int   `json:"live_scopes" yaml:"live_scopes"`
	PendingStale  int   `json:"pending_stale" yaml:"pending_stale"`
}

// Stats returns current counters. LiveScopes walks the scope table.
func (c *Classifier[L]) Stats() Stats {
	return Stats{
		Classified:    c.stats.classified.Load(),
		Ignored:       c.stats.ignored.Load(),
		DecisionHits:  c.stats.decisionHits.Load(),
		OutlineHits:   c.stats.outlineHits.Load(),
		Parsed:        c.stats.parsed.Load(),
		ParseFailures: c.stats.parseFailures.Load(),
		Matched:       c.stats.matched.Load(),
		Released:      c.stats.released.Load(),
		LiveScopes:    c.index.Len(),
		PendingStale:  c.index.Pending(),
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}

	return v
}
