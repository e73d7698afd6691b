package store

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// HistoryRetention is how long usage history entries are kept.
const HistoryRetention = 30 * 24 * time.Hour

// HistoryEntry is one recorded poll. Timestamp is in Unix milliseconds.
type HistoryEntry struct {
	Timestamp int64   `json:"timestamp"`
	Session   float64 `json:"session"`
	Weekly    float64 `json:"weekly"`
	Sonnet    float64 `json:"sonnet"`
}

// Time returns the entry timestamp.
func (e HistoryEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// UsageHistory returns the stored history, oldest first.
func (s *Store) UsageHistory() ([]HistoryEntry, error) {
	var entries []HistoryEntry
	if _, err := s.Get(KeyUsageHistory, &entries); err != nil {
		return nil, fmt.Errorf("read usage history: %w", err)
	}
	return entries, nil
}

// SaveUsageHistoryEntry appends e and drops every entry older than
// HistoryRetention in the same transaction.
func (s *Store) SaveUsageHistoryEntry(e HistoryEntry) error {
	cutoff := s.now().Add(-HistoryRetention).UnixMilli()
	return s.db.Update(func(tx *bbolt.Tx) error {
		var entries []HistoryEntry
		if _, err := s.getTx(tx, KeyUsageHistory, &entries); err != nil {
			return fmt.Errorf("read usage history: %w", err)
		}
		entries = append(entries, e)

		kept := entries[:0]
		for _, entry := range entries {
			if entry.Timestamp >= cutoff {
				kept = append(kept, entry)
			}
		}
		return s.putTx(tx, KeyUsageHistory, kept)
	})
}

// ClearUsageHistory removes all history entries.
func (s *Store) ClearUsageHistory() error {
	return s.Delete(KeyUsageHistory)
}
