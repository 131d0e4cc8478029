package evidence

import (
	"fmt"
	"os"
	"sort"
	"time"
)

// Cleanup applies the retention policy: the union of records older than the
// configured max age and, per scope, the oldest records beyond the max
// count. Individual deletion failures are collected, never fatal. A
// non-empty scopeKey restricts the sweep to that scope. No-op when cleanup
// is disabled.
func (s *Store) Cleanup(scopeKey string) (*CleanupReport, error) {
	report := &CleanupReport{}
	if !s.cfg.Cleanup.Enabled {
		return report, nil
	}
	start := time.Now()

	s.mu.RLock()
	byScope := make(map[string][]*Record)
	for _, record := range s.records {
		if scopeKey != "" && record.ScopeKey != scopeKey {
			continue
		}
		byScope[record.ScopeKey] = append(byScope[record.ScopeKey], record)
	}
	s.mu.RUnlock()

	maxAge := s.cfg.Cleanup.MaxAge()
	maxCount := s.cfg.Cleanup.MaxCount
	now := time.Now()

	victims := make(map[string]*Record)
	for _, records := range byScope {
		sort.Slice(records, func(i, j int) bool {
			return records[i].Timestamp.Before(records[j].Timestamp)
		})
		if maxAge > 0 {
			for _, record := range records {
				if now.Sub(record.Timestamp) > maxAge {
					victims[record.ID] = record
				}
			}
		}
		if maxCount > 0 && len(records) > maxCount {
			for _, record := range records[:len(records)-maxCount] {
				victims[record.ID] = record
			}
		}
	}

	for _, record := range victims {
		if err := os.Remove(record.Path); err != nil && !os.IsNotExist(err) {
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s: %v", record.ID, err))
		}
		s.purge(record)
		report.Deleted++
		report.FreedBytes += record.Size
	}

	report.Duration = time.Since(start)
	if report.Deleted > 0 {
		s.log.Infof("evidence cleanup removed %d records (%d bytes) in %s",
			report.Deleted, report.FreedBytes, report.Duration)
	}
	return report, nil
}
