package redispoco

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// IndexHealthReport contains the results of a Verify pass.
type IndexHealthReport struct {
	Timestamp time.Time
	Namespace string
	// Records is the number of readable records checked.
	Records int
	// Unreadable counts blobs that are not JSON objects.
	Unreadable int
	// MissingEntries counts expected index entries that are absent.
	MissingEntries int
	// DriftedIDs lists, sorted, the records with at least one missing entry.
	DriftedIDs      []string
	DriftPercentage float64
}

// Healthy reports whether every record is fully indexed.
func (r *IndexHealthReport) Healthy() bool {
	return r.MissingEntries == 0
}

// Verify checks that every stored record is present in the exact-match set
// of each of its indexed values and, for numeric values, in the attribute's
// sorted set. It does not look for stale entries of removed values; Rebuild
// clears those.
func (s *Store) Verify(ctx context.Context) (*IndexHealthReport, error) {
	report := &IndexHealthReport{
		Timestamp:  time.Now(),
		Namespace:  s.keys.Namespace,
		DriftedIDs: make([]string, 0),
	}

	err := s.scanRecords(ctx, func(id string, rec Record) error {
		report.Records++
		missing, err := s.missingEntries(ctx, id, rec)
		if err != nil {
			return err
		}
		if missing > 0 {
			report.MissingEntries += missing
			report.DriftedIDs = append(report.DriftedIDs, id)
		}
		return nil
	}, func(id string, err error) {
		report.Unreadable++
		s.logger.Warn("unreadable record during verification", "namespace", s.keys.Namespace, "id", id, "error", err)
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(report.DriftedIDs)
	if report.Records > 0 {
		report.DriftPercentage = float64(len(report.DriftedIDs)) / float64(report.Records) * 100.0
	}

	s.metrics.Gauge(MetricIndexDrift, report.DriftPercentage, s.tags()...)
	s.metrics.Gauge(MetricIndexMissing, float64(report.MissingEntries), s.tags()...)
	return report, nil
}

func (s *Store) missingEntries(ctx context.Context, id string, rec Record) (int, error) {
	missing := 0
	for _, op := range DiffIndexes(s.keys, s.opts.Attributes, id, nil, rec) {
		switch op.Kind {
		case OpSetAdd:
			ok, err := s.storage.SetIsMember(ctx, op.Key, id)
			if err != nil {
				return 0, fmt.Errorf("failed to check %s: %w", op.Key, err)
			}
			if !ok {
				missing++
			}
		case OpSortedSetAdd:
			_, found, err := s.storage.SortedSetScore(ctx, op.Key, id)
			if err != nil {
				return 0, fmt.Errorf("failed to check %s: %w", op.Key, err)
			}
			if !found {
				missing++
			}
		}
	}
	return missing, nil
}

// Repair re-adds the index entries of the records a report lists as
// drifted. Records removed since the report was taken are skipped.
// It returns the number of records repaired.
func (s *Store) Repair(ctx context.Context, report *IndexHealthReport) (int, error) {
	repaired := 0
	for _, id := range report.DriftedIDs {
		if err := ctx.Err(); err != nil {
			return repaired, fmt.Errorf("repair canceled: %w", err)
		}

		rec, err := s.Get(ctx, id)
		if err != nil {
			s.logger.Warn("failed to repair index", "namespace", s.keys.Namespace, "id", id, "error", err)
			continue
		}
		if rec == nil {
			continue
		}

		tx := s.storage.Begin()
		for _, op := range DiffIndexes(s.keys, s.opts.Attributes, id, nil, rec) {
			op.Apply(tx)
		}
		if err := s.commit(ctx, tx, "repair", id); err != nil {
			return repaired, err
		}
		repaired++
	}

	s.logger.Info("index drift repair completed",
		"namespace", s.keys.Namespace,
		"drifted", len(report.DriftedIDs),
		"repaired", repaired,
	)
	return repaired, nil
}

// IndexHealthMonitor runs Verify periodically and logs when drift exceeds
// a threshold. With auto-repair enabled it also repairs what it finds.
type IndexHealthMonitor struct {
	store  *Store
	logger Logger

	checkInterval  time.Duration
	driftThreshold float64 // percent
	autoRepair     bool

	running  bool
	stopChan chan struct{}
	done     chan struct{}
	mu       sync.Mutex
	last     *IndexHealthReport
}

// NewIndexHealthMonitor creates a monitor checking every five minutes and
// alerting above 5% drift.
func NewIndexHealthMonitor(store *Store) *IndexHealthMonitor {
	return &IndexHealthMonitor{
		store:          store,
		logger:         store.logger,
		checkInterval:  5 * time.Minute,
		driftThreshold: 5.0,
	}
}

// WithInterval sets the health check interval
func (m *IndexHealthMonitor) WithInterval(interval time.Duration) *IndexHealthMonitor {
	m.checkInterval = interval
	return m
}

// WithDriftThreshold sets the drift percentage that triggers alerts
func (m *IndexHealthMonitor) WithDriftThreshold(threshold float64) *IndexHealthMonitor {
	m.driftThreshold = threshold
	return m
}

// WithAutoRepair makes the monitor repair drifted records after each check.
func (m *IndexHealthMonitor) WithAutoRepair(enabled bool) *IndexHealthMonitor {
	m.autoRepair = enabled
	return m
}

// Start begins checking in the background until ctx is done or Stop is
// called.
func (m *IndexHealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("health monitor already running")
	}
	if m.checkInterval <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "checkInterval",
			"reason": "must be positive",
		})
	}

	m.running = true
	m.stopChan = make(chan struct{})
	m.done = make(chan struct{})

	go m.loop(ctx, m.stopChan, m.done)

	m.logger.Info("index health monitor started",
		"namespace", m.store.keys.Namespace,
		"interval", m.checkInterval,
		"drift_threshold", m.driftThreshold,
		"auto_repair", m.autoRepair,
	)
	return nil
}

func (m *IndexHealthMonitor) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("index health monitor stopped", "reason", "context canceled")
			return
		case <-stop:
			m.logger.Info("index health monitor stopped", "reason", "stop requested")
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow runs one verification synchronously and returns its report,
// or nil when verification failed.
func (m *IndexHealthMonitor) CheckNow(ctx context.Context) *IndexHealthReport {
	report, err := m.store.Verify(ctx)
	if err != nil {
		m.logger.Error("health check failed", "namespace", m.store.keys.Namespace, "error", err)
		return nil
	}

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()

	if report.DriftPercentage > m.driftThreshold {
		m.logger.Error("index drift detected",
			"namespace", report.Namespace,
			"drift_percent", report.DriftPercentage,
			"missing", report.MissingEntries,
			"records", report.Records,
		)
		if m.autoRepair {
			if _, err := m.store.Repair(ctx, report); err != nil {
				m.logger.Error("index repair failed", "namespace", report.Namespace, "error", err)
			}
		}
	} else {
		m.logger.Debug("index health check passed",
			"namespace", report.Namespace,
			"drift_percent", report.DriftPercentage,
			"records", report.Records,
		)
	}
	return report
}

// LastReport returns the report of the most recent check, if any.
func (m *IndexHealthMonitor) LastReport() *IndexHealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Stop halts background checking and waits for the loop to exit.
func (m *IndexHealthMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	done := m.done
	m.mu.Unlock()

	<-done
}
