package redispoco

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Filter returns the sorted identifiers of the records matching f.
//
// Evaluation never scans records. Each range condition is answered from
// the attribute's sorted set: no hit empties the whole result, a single
// distinct score reuses that value's exact-match set, several scores are
// merged into a derived union set. Exact conditions contribute their
// exact-match sets. The collected sets are intersected into one more
// derived set whose members are the result, keeping only identifiers the
// range lookups returned, so a string value spelled like a number never
// satisfies a range. Derived sets expire after
// Options.DerivedSetTTL; an identical filter issued meanwhile rebuilds them
// under the same keys.
//
// A filter with no condition on an indexed attribute matches nothing.
func (s *Store) Filter(ctx context.Context, f Filter) ([]string, error) {
	start := time.Now()
	ids, derived, err := s.filter(ctx, f)
	s.metrics.Timing(MetricFilterDuration, time.Since(start), s.tags()...)

	if err != nil {
		s.metrics.Increment(MetricFilterError, s.tags()...)
		return nil, err
	}

	s.metrics.Increment(MetricFilterSuccess, s.tags()...)
	s.metrics.Histogram(MetricFilterResults, float64(len(ids)), s.tags()...)
	s.logger.Debug("filter evaluated",
		"namespace", s.keys.Namespace,
		"attributes", f.Attributes(),
		"derived_sets", derived,
		"results", len(ids),
		"duration", time.Since(start),
	)
	return ids, nil
}

// FilterRecords returns the records matching f, ordered by identifier.
// Records removed between evaluation and loading are skipped.
func (s *Store) FilterRecords(ctx context.Context, f Filter) ([]Record, error) {
	ids, err := s.Filter(ctx, f)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

// filter evaluates f and also reports how many derived sets it wrote.
func (s *Store) filter(ctx context.Context, f Filter) ([]string, int, error) {
	var rangeAttrs, exactAttrs []string
	for _, attr := range s.opts.Attributes {
		cond, ok := f[attr]
		if !ok {
			continue
		}
		if cond.err != nil {
			return nil, 0, WithContext(ErrInvalidFilter, map[string]interface{}{
				"attribute": attr,
				"reason":    cond.err.Error(),
			})
		}
		if cond.kind == MatchRange {
			rangeAttrs = append(rangeAttrs, attr)
		} else {
			exactAttrs = append(exactAttrs, attr)
		}
	}

	derived := 0
	ranges := make([]rangeHits, len(rangeAttrs))

	g, gctx := errgroup.WithContext(ctx)
	for i, attr := range rangeAttrs {
		g.Go(func() error {
			var err error
			ranges[i], err = s.rangeSource(gctx, attr, f[attr].rng)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	keys := make([]string, 0, len(ranges)+len(exactAttrs))
	for _, r := range ranges {
		if r.key == "" {
			return []string{}, derived, nil
		}
		if r.union {
			derived++
		}
		keys = append(keys, r.key)
	}

	for _, attr := range exactAttrs {
		cond := f[attr]
		exact := make([]string, len(cond.values))
		for i, v := range cond.values {
			exact[i] = s.keys.ExactKey(attr, v.String())
		}

		if cond.kind == MatchAll {
			keys = append(keys, exact...)
			continue
		}

		switch len(exact) {
		case 0:
			return []string{}, derived, nil
		case 1:
			keys = append(keys, exact[0])
		default:
			dest, err := s.union(ctx, exact)
			if err != nil {
				return nil, derived, err
			}
			derived++
			keys = append(keys, dest)
		}
	}

	keys = dedupe(keys)

	var source string
	switch len(keys) {
	case 0:
		return []string{}, derived, nil
	case 1:
		// Reading the set directly keeps expiry off index sets.
		source = keys[0]
	default:
		dest, err := s.intersect(ctx, keys)
		if err != nil {
			return nil, derived, err
		}
		derived++
		source = dest
	}

	members, err := s.storage.SetMembers(ctx, source)
	if err != nil {
		return nil, derived, fmt.Errorf("failed to read %s: %w", source, err)
	}

	ids := members[:0]
	for _, id := range members {
		if inAllRanges(ranges, id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, derived, nil
}

// rangeHits is a resolved range condition.
type rangeHits struct {
	key     string          // set holding every id with a matching exact value
	union   bool            // key names a freshly built union
	members map[string]bool // ids whose numeric score is in range
}

func inAllRanges(ranges []rangeHits, id string) bool {
	for _, r := range ranges {
		if !r.members[id] {
			return false
		}
	}
	return true
}

// rangeSource resolves a range condition to the key of a set holding the
// matching identifiers. The key is "" when nothing is in range. The exact
// sets behind the key may also hold non-numeric values with the same
// spelling, so the scored members are returned alongside it.
func (s *Store) rangeSource(ctx context.Context, attr string, rng Range) (rangeHits, error) {
	hits, err := s.storage.SortedSetRangeByScore(ctx, s.keys.RangeKey(attr), rng)
	if err != nil {
		return rangeHits{}, fmt.Errorf("failed to query range %s %s: %w", attr, rng, err)
	}
	if len(hits) == 0 {
		return rangeHits{}, nil
	}

	members := make(map[string]bool, len(hits))
	seen := make(map[string]bool)
	var keys []string
	for _, hit := range hits {
		members[hit.Member] = true
		key := s.keys.ExactKey(attr, formatNumber(hit.Score))
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	if len(keys) == 1 {
		return rangeHits{key: keys[0], members: members}, nil
	}
	dest, err := s.union(ctx, keys)
	if err != nil {
		return rangeHits{}, err
	}
	return rangeHits{key: dest, union: true, members: members}, nil
}

func (s *Store) union(ctx context.Context, keys []string) (string, error) {
	dest := s.keys.UnionKey(keys...)
	if err := s.storage.SetUnionStore(ctx, dest, keys...); err != nil {
		return "", fmt.Errorf("failed to build union %s: %w", dest, err)
	}
	return dest, s.expireDerived(ctx, dest)
}

func (s *Store) intersect(ctx context.Context, keys []string) (string, error) {
	dest := s.keys.IntersectKey(keys...)
	if err := s.storage.SetIntersectStore(ctx, dest, keys...); err != nil {
		return "", fmt.Errorf("failed to build intersection %s: %w", dest, err)
	}
	return dest, s.expireDerived(ctx, dest)
}

func (s *Store) expireDerived(ctx context.Context, key string) error {
	s.metrics.Increment(MetricDerivedSets, s.tags()...)
	if err := s.storage.Expire(ctx, key, s.opts.DerivedSetTTL); err != nil {
		return fmt.Errorf("failed to expire %s: %w", key, err)
	}
	return nil
}

// dedupe drops repeated keys, keeping first occurrences in order.
func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
