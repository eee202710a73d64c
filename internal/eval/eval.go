package eval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"herald/internal/directory"
	"herald/internal/query"
	"herald/pkg/logx"
)

// Resolver is the read slice of the directory contract that evaluation
// needs. *directory.HTTPClient satisfies it.
type Resolver interface {
	RegionNations(ctx context.Context, region string, fresh bool) ([]string, error)
	RegionsByTag(ctx context.Context, tags []string, fresh bool) ([]string, error)
	WAMembers(ctx context.Context, fresh bool) ([]string, error)
	WADelegates(ctx context.Context, fresh bool) ([]string, error)
	Happenings(ctx context.Context, filter string, limit int, fresh bool) ([]directory.Event, error)
	NationCategory(ctx context.Context, nation string, fresh bool) (string, error)
	CensusScore(ctx context.Context, nation string, scale int, fresh bool) (float64, error)
}

// CacheRules maps a category to "bypass the directory cache". Categories
// not present use the cached value.
type CacheRules map[query.Category]bool

func (r CacheRules) Fresh(c query.Category) bool { return r[c] }

// UnsupportedActionError rejects Add with a filter category: the directory
// offers no bulk "all nations with category/census X" query, so those
// categories can only narrow the running set.
type UnsupportedActionError struct {
	Category query.Category
	Pos      []int
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("category %q cannot add recipients; use it with '-' or '/'", e.Category)
}

type Evaluator struct {
	res Resolver
	log logx.Logger
}

func New(res Resolver, log logx.Logger) *Evaluator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Evaluator{res: res, log: log.With(logx.String("component", "eval"))}
}

// Evaluate parses and resolves q. The result is deduplicated keeping first
// occurrences, so two runs against an unchanged directory agree exactly.
func (e *Evaluator) Evaluate(ctx context.Context, q string, rules CacheRules) ([]string, error) {
	root, err := query.Parse(q)
	if err != nil {
		return nil, err
	}
	out, err := e.group(ctx, root.Group, rules)
	if err != nil {
		return nil, err
	}
	return dedupe(out), nil
}

func (e *Evaluator) group(ctx context.Context, cmds []*query.Command, rules CacheRules) ([]string, error) {
	var cur []string
	for _, c := range cmds {
		next, err := e.command(ctx, cur, c, rules)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (e *Evaluator) command(ctx context.Context, cur []string, c *query.Command, rules CacheRules) ([]string, error) {
	if c.IsGroup() {
		res, err := e.group(ctx, c.Group, rules)
		if err != nil {
			return nil, err
		}
		return applyAction(c.Action, cur, res), nil
	}
	if c.Prim.Category.Direct() {
		res, err := e.direct(ctx, c.Prim, rules)
		if err != nil {
			return nil, err
		}
		return applyAction(c.Action, cur, res), nil
	}
	return e.filter(ctx, cur, c, rules)
}

// applyAction combines the running list with a resolved one. Add keeps
// duplicates; they survive until the final top-level dedup pass.
func applyAction(a query.Action, cur, res []string) []string {
	switch a {
	case query.ActionAdd:
		out := make([]string, 0, len(cur)+len(res))
		out = append(out, cur...)
		return append(out, res...)
	case query.ActionRemove:
		drop := toSet(res)
		out := make([]string, 0, len(cur))
		for _, id := range cur {
			if !drop[id] {
				out = append(out, id)
			}
		}
		return out
	case query.ActionLimit:
		keep := toSet(res)
		out := make([]string, 0, len(cur))
		for _, id := range cur {
			if keep[id] {
				out = append(out, id)
			}
		}
		return out
	default:
		return cur
	}
}

// direct resolves a primitive whose result does not depend on the running
// set. All identifiers come back in canonical form.
func (e *Evaluator) direct(ctx context.Context, p *query.Primitive, rules CacheRules) ([]string, error) {
	fresh := rules.Fresh(p.Category)
	switch p.Category {
	case query.CategoryNations:
		return canonAll(p.Args), nil

	case query.CategoryRegions:
		var out []string
		for _, r := range p.Args {
			ns, err := e.res.RegionNations(ctx, query.Canonical(r), fresh)
			if err != nil {
				return nil, err
			}
			out = append(out, canonAll(ns)...)
		}
		return out, nil

	case query.CategoryTags:
		regions, err := e.res.RegionsByTag(ctx, canonAll(p.Args), fresh)
		if err != nil {
			return nil, err
		}
		var out []string
		for _, r := range regions {
			ns, err := e.res.RegionNations(ctx, query.Canonical(r), fresh)
			if err != nil {
				return nil, err
			}
			out = append(out, canonAll(ns)...)
		}
		return out, nil

	case query.CategoryWA:
		var (
			ns  []string
			err error
		)
		if strings.EqualFold(p.Args[0], "delegates") {
			ns, err = e.res.WADelegates(ctx, fresh)
		} else {
			ns, err = e.res.WAMembers(ctx, fresh)
		}
		if err != nil {
			return nil, err
		}
		return canonAll(ns), nil

	case query.CategoryNew, query.CategoryRefounded:
		limit, _ := strconv.Atoi(p.Args[0])
		evs, err := e.res.Happenings(ctx, "founding", limit, fresh)
		if err != nil {
			return nil, err
		}
		refounds := p.Category == query.CategoryRefounded
		var out []string
		for _, ev := range evs {
			if strings.Contains(ev.Text, "refounded") != refounds {
				continue
			}
			if n, ok := eventNation(ev.Text); ok {
				out = append(out, query.Canonical(n))
			}
		}
		return out, nil

	default:
		return nil, fmt.Errorf("category %q is not a direct primitive", p.Category)
	}
}

// filter resolves categories/census primitives by testing each nation
// already in the running set. Unknown nations (deleted since the set was
// built) count as non-matches; any other directory failure aborts the
// evaluation.
func (e *Evaluator) filter(ctx context.Context, cur []string, c *query.Command, rules CacheRules) ([]string, error) {
	p := c.Prim
	if c.Action == query.ActionAdd {
		return nil, &UnsupportedActionError{Category: p.Category, Pos: c.Pos}
	}
	fresh := rules.Fresh(p.Category)

	var matches []string
	for _, id := range cur {
		ok, err := e.matches(ctx, id, p, fresh)
		if err != nil {
			if directory.IsUnknownNation(err) {
				e.log.Debug("filter skipping unknown nation", logx.String("nation", id))
				continue
			}
			return nil, err
		}
		if ok {
			matches = append(matches, id)
		}
	}

	if c.Action == query.ActionRemove {
		return applyAction(query.ActionRemove, cur, matches), nil
	}
	// Limit: matches is already an ordered subset of cur.
	return matches, nil
}

func (e *Evaluator) matches(ctx context.Context, id string, p *query.Primitive, fresh bool) (bool, error) {
	switch p.Category {
	case query.CategoryCategories:
		got, err := e.res.NationCategory(ctx, id, fresh)
		if err != nil {
			return false, err
		}
		for _, want := range p.Args {
			if strings.EqualFold(want, got) {
				return true, nil
			}
		}
		return false, nil

	case query.CategoryCensus:
		scale, _ := strconv.Atoi(p.Args[0])
		min, _ := strconv.Atoi(p.Args[1])
		max, _ := strconv.Atoi(p.Args[2])
		score, err := e.res.CensusScore(ctx, id, scale, fresh)
		if err != nil {
			return false, err
		}
		return score >= float64(min) && score <= float64(max), nil

	default:
		return false, fmt.Errorf("category %q is not a filter primitive", p.Category)
	}
}

// eventNation extracts the nation id between the first pair of "@@" markers.
func eventNation(text string) (string, bool) {
	i := strings.Index(text, "@@")
	if i < 0 {
		return "", false
	}
	rest := text[i+2:]
	j := strings.Index(rest, "@@")
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

func canonAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = query.Canonical(id)
	}
	return out
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// dedupe removes repeats keeping the first occurrence.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
