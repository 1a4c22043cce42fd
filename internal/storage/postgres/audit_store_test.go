package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPartitionName(t *testing.T) {
	at := time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "audit_logs_2026_01", partitionName(at))

	at = time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, "audit_logs_2025_12", partitionName(at))
}

func TestParsePartitionName(t *testing.T) {
	start, ok := parsePartitionName("audit_logs_2026_03")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), start)

	for _, bad := range []string{"audit_logs", "audit_logs_2026", "audit_logs_2026_13", "other_2026_01", "audit_logs_x_y"} {
		_, ok := parsePartitionName(bad)
		assert.False(t, ok, bad)
	}
}

func TestPartitionNameRoundTrip(t *testing.T) {
	at := time.Date(2026, time.July, 4, 12, 0, 0, 0, time.UTC)
	start, ok := parsePartitionName(partitionName(at))
	assert.True(t, ok)
	assert.Equal(t, time.July, start.Month())
	assert.Equal(t, 2026, start.Year())
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(""))
	assert.Equal(t, "x", nullable("x"))
}
