package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "widget.db")
	s, err := Open(path, "test-passphrase", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCredentialsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	creds, err := s.Credentials()
	require.NoError(t, err)
	assert.False(t, creds.Valid())

	require.NoError(t, s.SaveCredentials(Credentials{SessionKey: "sk-ant-sid01-abc", OrganizationID: "org-1"}))

	creds, err = s.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-sid01-abc", creds.SessionKey)
	assert.Equal(t, "org-1", creds.OrganizationID)
	assert.True(t, creds.Valid())

	require.NoError(t, s.DeleteCredentials())
	creds, err = s.Credentials()
	require.NoError(t, err)
	assert.Equal(t, Credentials{}, creds)
}

func TestSaveCredentialsWithoutOrganizationClearsPrevious(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveCredentials(Credentials{SessionKey: "old", OrganizationID: "org-1"}))
	require.NoError(t, s.SaveCredentials(Credentials{SessionKey: "new"}))

	creds, err := s.Credentials()
	require.NoError(t, err)
	assert.Equal(t, Credentials{SessionKey: "new"}, creds)
	assert.False(t, creds.Valid())
}

func TestValidRequiresBothFields(t *testing.T) {
	assert.False(t, Credentials{SessionKey: "k"}.Valid())
	assert.False(t, Credentials{OrganizationID: "o"}.Valid())
	assert.True(t, Credentials{SessionKey: "k", OrganizationID: "o"}.Valid())
}

func TestValuesAreEncryptedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.db")
	s, err := Open(path, "test-passphrase")
	require.NoError(t, err)
	require.NoError(t, s.SaveCredentials(Credentials{SessionKey: "plaintext-session-key", OrganizationID: "org-plain"}))
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("plaintext-session-key")))
	assert.False(t, bytes.Contains(raw, []byte("org-plain")))
}

func TestReopenWithPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.db")

	s, err := Open(path, "right")
	require.NoError(t, err)
	require.NoError(t, s.SaveCredentials(Credentials{SessionKey: "k", OrganizationID: "o"}))
	require.NoError(t, s.Close())

	_, err = Open(path, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassphrase)

	s, err = Open(path, "right")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	creds, err := s.Credentials()
	require.NoError(t, err)
	assert.True(t, creds.Valid())
}

func TestWindowPosition(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.WindowPosition()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetWindowPosition(Position{X: 120, Y: -40}))
	pos, ok, err := s.WindowPosition()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Position{X: 120, Y: -40}, pos)
}

func TestHistoryPrunedOnWrite(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := openTestStore(t, WithClock(func() time.Time { return now }))

	old := HistoryEntry{Timestamp: now.Add(-40 * 24 * time.Hour).UnixMilli(), Session: 10}
	recent := HistoryEntry{Timestamp: now.Add(-24 * time.Hour).UnixMilli(), Session: 20, Weekly: 5, Sonnet: 1}

	require.NoError(t, s.SaveUsageHistoryEntry(old))
	require.NoError(t, s.SaveUsageHistoryEntry(recent))

	entries, err := s.UsageHistory()
	require.NoError(t, err)
	assert.Equal(t, []HistoryEntry{recent}, entries)
}

func TestHistoryKeepsBoundaryEntry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := openTestStore(t, WithClock(func() time.Time { return now }))

	edge := HistoryEntry{Timestamp: now.Add(-HistoryRetention).UnixMilli()}
	require.NoError(t, s.SaveUsageHistoryEntry(edge))

	entries, err := s.UsageHistory()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestClearUsageHistory(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveUsageHistoryEntry(HistoryEntry{Timestamp: time.Now().UnixMilli()}))
	require.NoError(t, s.ClearUsageHistory())

	entries, err := s.UsageHistory()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
