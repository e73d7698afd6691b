package usage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRows(t *testing.T) {
	snap, err := ParseSnapshot(json.RawMessage(`{
		"five_hour": {"utilization": 10},
		"seven_day_opus": {"utilization": 80, "resets_at": "2024-01-08T00:00:00Z"},
		"seven_day_sonnet": {"utilization": 5},
		"seven_day_cowork": {"resets_at": "2024-01-08T00:00:00Z"},
		"seven_day_oauth_apps": null,
		"extra_usage": {"balance_cents": 1260}
	}`))
	require.NoError(t, err)

	rows := snap.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, CategorySonnet, rows[0].Category)
	assert.Equal(t, CategoryOpus, rows[1].Category)
	assert.Equal(t, 80.0, rows[1].Period.Percent())
	assert.NotNil(t, rows[1].Period.ResetsAt)
	assert.Nil(t, rows[1].Extra)

	extra := rows[2]
	assert.Equal(t, CategoryExtra, extra.Category)
	bal, ok := extra.Balance()
	assert.True(t, ok)
	assert.Equal(t, "Bal $13", bal)
	_, ok = extra.Spend()
	assert.False(t, ok)
}

func TestRow_Spend(t *testing.T) {
	snap, err := ParseSnapshot(json.RawMessage(`{"extra_usage":{"utilization":25,"used_cents":500,"limit_cents":2000}}`))
	require.NoError(t, err)

	rows := snap.Rows()
	require.Len(t, rows, 1)
	spend, ok := rows[0].Spend()
	assert.True(t, ok)
	assert.Equal(t, "$5/$20", spend)
	_, ok = rows[0].Balance()
	assert.False(t, ok)
}

func TestRows_Empty(t *testing.T) {
	snap, err := ParseSnapshot(json.RawMessage(`{"five_hour":{"utilization":1},"extra_usage":{}}`))
	require.NoError(t, err)
	assert.Empty(t, snap.Rows())
}
