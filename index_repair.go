package redispoco

import (
	"context"
	"fmt"
	"time"
)

// Rebuild discards every exact-match set and sorted set of the indexed
// attributes and re-derives them from the stored records. It returns the
// number of records indexed.
//
// Use it after changing Options.Attributes, after restoring the item hash
// from a backup, or when Verify reports drift. Records are re-indexed one
// transaction per scan page; writes issued while Rebuild runs may be
// indexed twice, which is harmless, but a record removed between the scan
// and its page commit will be left with stale entries. Run it while the
// namespace is quiet.
func (s *Store) Rebuild(ctx context.Context) (int, error) {
	start := time.Now()

	deleted, err := s.dropIndexes(ctx)
	if err != nil {
		return 0, err
	}

	indexed, skipped := 0, 0
	tx := s.storage.Begin()
	pending := 0

	flush := func() error {
		if pending == 0 {
			return nil
		}
		if err := s.commit(ctx, tx, "rebuild", fmt.Sprintf("%d records", pending)); err != nil {
			return err
		}
		indexed += pending
		tx, pending = s.storage.Begin(), 0
		return nil
	}

	err = s.scanRecords(ctx, func(id string, rec Record) error {
		for _, op := range DiffIndexes(s.keys, s.opts.Attributes, id, nil, rec) {
			op.Apply(tx)
		}
		pending++
		if int64(pending) >= s.opts.ScanCount {
			return flush()
		}
		return nil
	}, func(id string, err error) {
		skipped++
		s.logger.Warn("skipping unreadable record", "namespace", s.keys.Namespace, "id", id, "error", err)
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return indexed, fmt.Errorf("rebuild interrupted after %d records: %w", indexed, err)
	}

	s.metrics.Gauge(MetricRecordsIndexed, float64(indexed), s.tags()...)
	s.logger.Info("indexes rebuilt",
		"namespace", s.keys.Namespace,
		"records", indexed,
		"skipped", skipped,
		"keys_dropped", deleted,
		"duration", time.Since(start),
	)
	return indexed, nil
}

// dropIndexes deletes the index structures of every configured attribute,
// leaving the item hash alone.
func (s *Store) dropIndexes(ctx context.Context) (int, error) {
	deleted := 0
	for _, attr := range s.opts.Attributes {
		if err := s.storage.DeleteKeys(ctx, s.keys.RangeKey(attr)); err != nil {
			return deleted, fmt.Errorf("failed to drop %s: %w", s.keys.RangeKey(attr), err)
		}
		deleted++

		keys, err := s.collectKeys(ctx, s.keys.Pattern(attr))
		if err != nil {
			return deleted, err
		}
		drop := keys[:0]
		for _, key := range keys {
			if key != s.itemKey {
				drop = append(drop, key)
			}
		}
		n, err := s.deleteKeys(ctx, drop)
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("failed to drop index keys of %s: %w", attr, err)
		}
	}
	return deleted, nil
}
