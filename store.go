package redispoco

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Store keeps JSON records in a namespaced hash and mirrors their indexed
// attributes into exact-match sets and numeric sorted sets.
//
// The Store is the only writer of its namespace. It holds no locks: every
// write is one MULTI/EXEC transaction, so concurrent writes of different
// records race freely and concurrent writes of the same record resolve to
// the last commit.
type Store struct {
	storage Storage
	keys    Keyspace
	itemKey string
	opts    Options
	logger  Logger
	metrics Metrics
}

// New creates a Store over storage. The Store does not take ownership of
// storage beyond Close, which closes it.
func New(storage Storage, opts Options) (*Store, error) {
	if storage == nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Storage",
			"reason": "storage is required",
		})
	}

	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	keys := Keyspace{Namespace: opts.Namespace}
	return &Store{
		storage: storage,
		keys:    keys,
		itemKey: keys.ItemKey(opts.ItemKey),
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// SetLogger updates the logger for this store
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetrics updates the metrics collector for this store
func (s *Store) SetMetrics(metrics Metrics) {
	s.metrics = metrics
}

// Keyspace returns the key layout of this store.
func (s *Store) Keyspace() Keyspace {
	return s.keys
}

// Attributes returns the indexed attributes in configured order.
func (s *Store) Attributes() []string {
	return append([]string(nil), s.opts.Attributes...)
}

// Storage returns the underlying storage (for advanced use cases like index repair)
func (s *Store) Storage() Storage {
	return s.storage
}

func (s *Store) tags() []string {
	return []string{"namespace", s.keys.Namespace}
}

// Get loads the record stored under id. A missing record is not an error:
// Get returns nil, nil.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	start := time.Now()
	raw, found, err := s.storage.HashGet(ctx, s.itemKey, id)
	s.metrics.Timing(MetricGetDuration, time.Since(start), s.tags()...)

	if err != nil {
		s.metrics.Increment(MetricGetError, s.tags()...)
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}
	if !found {
		s.metrics.Increment(MetricGetSuccess, s.tags()...)
		return nil, nil
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		s.metrics.Increment(MetricGetError, s.tags()...)
		return nil, WithContext(ErrDeserialization, map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
	}

	s.metrics.Increment(MetricGetSuccess, s.tags()...)
	return rec, nil
}

// Put stores rec under its identifier and updates every index entry the
// change affects, in one transaction.
//
// Validation happens before anything is written:
//   - a nil record fails with ErrInvalidRecord
//   - a missing or empty identifier fails with ErrMissingIdentifier, unless
//     Options.AutoID is set, in which case NewID() is written into rec
//     once the rest of it is valid
//   - indexed attributes holding objects or nested arrays fail with an
//     *AttributeError naming all of them
func (s *Store) Put(ctx context.Context, rec Record) error {
	_, err := s.put(ctx, rec)
	return err
}

// PutJSON decodes a JSON object and stores it like Put. It returns the
// identifier the record was stored under. Input that is not a single JSON
// object (arrays, scalars, null, malformed text) fails with ErrInvalidRecord.
func (s *Store) PutJSON(ctx context.Context, data []byte) (string, error) {
	rec, err := parseRecordJSON(data)
	if err != nil {
		s.metrics.Increment(MetricPutRejected, s.tags()...)
		return "", err
	}
	return s.put(ctx, rec)
}

func (s *Store) put(ctx context.Context, rec Record) (string, error) {
	start := time.Now()
	defer func() {
		s.metrics.Timing(MetricPutDuration, time.Since(start), s.tags()...)
	}()

	id, data, err := s.validate(rec)
	if err != nil {
		s.metrics.Increment(MetricPutRejected, s.tags()...)
		return "", err
	}

	old, err := s.Get(ctx, id)
	if err != nil {
		if !IsCorrupt(err) {
			s.metrics.Increment(MetricPutError, s.tags()...)
			return "", err
		}
		// The old index entries cannot be derived; Rebuild clears any left behind.
		s.logger.Warn("overwriting unreadable record", "namespace", s.keys.Namespace, "id", id, "error", err)
		old = nil
	}

	tx := s.storage.Begin()
	tx.HashSet(s.itemKey, id, string(data))
	for _, op := range DiffIndexes(s.keys, s.opts.Attributes, id, old, rec) {
		op.Apply(tx)
	}

	if err := s.commit(ctx, tx, "put", id); err != nil {
		s.metrics.Increment(MetricPutError, s.tags()...)
		return "", err
	}

	s.metrics.Increment(MetricPutSuccess, s.tags()...)
	return id, nil
}

// validate checks rec and returns its identifier and serialized form.
func (s *Store) validate(rec Record) (string, []byte, error) {
	if rec == nil {
		return "", nil, ErrInvalidRecord
	}

	id, ok := identifierOf(rec[s.opts.IDAttribute])
	if !ok && (!s.opts.AutoID || !isBlank(rec[s.opts.IDAttribute])) {
		return "", nil, WithContext(ErrMissingIdentifier, map[string]interface{}{
			"attribute": s.opts.IDAttribute,
			"record":    renderRecord(rec),
		})
	}

	if invalid := invalidAttributes(s.opts.Attributes, rec); len(invalid) > 0 {
		return "", nil, &AttributeError{Attributes: invalid, Record: renderRecord(rec)}
	}

	// A rejected record is left untouched.
	prev, hadPrev := rec[s.opts.IDAttribute]
	if !ok {
		id = NewID()
		rec[s.opts.IDAttribute] = id
	}

	data, err := json.Marshal(rec)
	if err != nil {
		if !ok && hadPrev {
			rec[s.opts.IDAttribute] = prev
		} else if !ok {
			delete(rec, s.opts.IDAttribute)
		}
		return "", nil, WithContext(ErrInvalidRecord, map[string]interface{}{
			"id":     id,
			"reason": err.Error(),
		})
	}
	return id, data, nil
}

// Remove deletes the record stored under id together with every index
// entry derived from it, in one transaction. Removing an absent id is a
// no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	start := time.Now()
	defer func() {
		s.metrics.Timing(MetricRemoveDuration, time.Since(start), s.tags()...)
	}()

	old, err := s.Get(ctx, id)
	if err != nil {
		if !IsCorrupt(err) {
			s.metrics.Increment(MetricRemoveError, s.tags()...)
			return err
		}
		s.logger.Warn("removing unreadable record", "namespace", s.keys.Namespace, "id", id, "error", err)
	} else if old == nil {
		return nil
	}

	tx := s.storage.Begin()
	for _, op := range DiffIndexes(s.keys, s.opts.Attributes, id, old, nil) {
		op.Apply(tx)
	}
	tx.HashDelete(s.itemKey, id)

	if err := s.commit(ctx, tx, "remove", id); err != nil {
		s.metrics.Increment(MetricRemoveError, s.tags()...)
		return err
	}

	s.metrics.Increment(MetricRemoveSuccess, s.tags()...)
	return nil
}

func (s *Store) commit(ctx context.Context, tx Tx, operation, id string) error {
	ops := tx.Len()
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("transaction failed",
			"namespace", s.keys.Namespace,
			"operation", operation,
			"id", id,
			"ops", ops,
			"error", err,
		)
		return fmt.Errorf("%s %s: %w", operation, id, err)
	}
	s.metrics.Histogram(MetricTxOps, float64(ops), s.tags()...)
	s.logger.Debug("transaction committed",
		"namespace", s.keys.Namespace,
		"operation", operation,
		"id", id,
		"ops", ops,
	)
	return nil
}

// RemoveAll deletes every key under the store's namespace: records, index
// structures and derived sets. Keys are collected with SCAN before any is
// deleted, then removed in batches of Options.ScanCount. It returns the
// number of keys deleted.
func (s *Store) RemoveAll(ctx context.Context) (int, error) {
	keys, err := s.collectKeys(ctx, s.keys.Pattern())
	deleted := 0
	if err == nil {
		deleted, err = s.deleteKeys(ctx, keys)
	}

	s.metrics.Gauge(MetricKeysDeleted, float64(deleted), s.tags()...)
	s.logger.Info("namespace cleared", "namespace", s.keys.Namespace, "keys", deleted)
	return deleted, err
}

// AttributeValues lists the distinct exact values of attribute that
// currently index at least one record, sorted. Derived sets written by
// Filter are told apart from exact-match sets by their expiry.
func (s *Store) AttributeValues(ctx context.Context, attribute string) ([]string, error) {
	prefix := s.keys.Key(attribute) + keyDelimiter
	seen := make(map[string]bool)

	err := s.scanKeys(ctx, s.keys.Pattern(attribute), func(keys []string) error {
		for _, key := range keys {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			if s.keys.looksDerived(key) {
				ttl, err := s.storage.TTL(ctx, key)
				if err != nil {
					return fmt.Errorf("failed to read expiry of %s: %w", key, err)
				}
				if ttl > 0 {
					continue
				}
			}
			seen[key[len(prefix):]] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

// scanKeys calls fn with each non-empty page of keys matching pattern.
func (s *Store) scanKeys(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.storage.Scan(ctx, cursor, pattern, s.opts.ScanCount)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// collectKeys returns every distinct key matching pattern, in scan order.
// Callers that delete what they find must collect first: a cursor does
// not have to survive deletions made while it is still paging.
func (s *Store) collectKeys(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]bool)
	var all []string
	err := s.scanKeys(ctx, pattern, func(keys []string) error {
		for _, key := range keys {
			if !seen[key] {
				seen[key] = true
				all = append(all, key)
			}
		}
		return nil
	})
	return all, err
}

// deleteKeys removes keys in batches of Options.ScanCount and returns how
// many were deleted before any error.
func (s *Store) deleteKeys(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	for len(keys) > 0 {
		n := min(len(keys), int(s.opts.ScanCount))
		if err := s.storage.DeleteKeys(ctx, keys[:n]...); err != nil {
			return deleted, fmt.Errorf("failed to delete keys: %w", err)
		}
		deleted += n
		keys = keys[n:]
	}
	return deleted, nil
}

// scanBlobs calls fn with every stored record blob, page by page, ids
// sorted within a page.
func (s *Store) scanBlobs(ctx context.Context, fn func(id, raw string) error) error {
	var cursor uint64
	for {
		entries, next, err := s.storage.HashScan(ctx, s.itemKey, cursor, s.opts.ScanCount)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", s.itemKey, err)
		}

		ids := make([]string, 0, len(entries))
		for id := range entries {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			if err := fn(id, entries[id]); err != nil {
				return err
			}
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// scanRecords is scanBlobs with decoding. Unreadable blobs are passed to
// bad instead of fn.
func (s *Store) scanRecords(ctx context.Context, fn func(id string, rec Record) error, bad func(id string, err error)) error {
	return s.scanBlobs(ctx, func(id, raw string) error {
		rec, err := decodeRecord(raw)
		if err != nil {
			if bad != nil {
				bad(id, err)
			}
			return nil
		}
		return fn(id, rec)
	})
}

// Flush deletes every key of the underlying database, not only this namespace.
func (s *Store) Flush(ctx context.Context) error {
	return s.storage.FlushAll(ctx)
}

// Ping checks storage health
func (s *Store) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// Close releases resources held by the store and storage
func (s *Store) Close() error {
	return s.storage.Close()
}

func decodeRecord(raw string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("blob is not a JSON object")
	}
	return rec, nil
}

// parseRecordJSON decodes exactly one JSON object. Numbers are kept as
// json.Number so the stored blob reproduces them digit for digit.
func parseRecordJSON(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, WithContext(ErrInvalidRecord, map[string]interface{}{"reason": err.Error()})
	}
	if dec.More() {
		return nil, WithContext(ErrInvalidRecord, map[string]interface{}{"reason": "trailing data after object"})
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, WithContext(ErrInvalidRecord, map[string]interface{}{"reason": fmt.Sprintf("expected object, got %s", jsonKind(v))})
	}
	return Record(obj), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func renderRecord(rec Record) string {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprint(map[string]any(rec))
	}
	return string(data)
}
