package ldap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampKnownValues(t *testing.T) {
	assert.Equal(t, Timestamp(116444736000000000), TimestampFromUnixMilli(0), "unix epoch")
	assert.Equal(t, Timestamp(0), TimestampFromUnixMilli(-epochOffsetMillis), "directory epoch")

	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, Timestamp(133485408000000000), TimestampFromTime(jan1))
	assert.Equal(t, jan1, Timestamp(133485408000000000).Time())
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Now()
	times := map[string]time.Time{
		"directory epoch": time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC),
		"unix epoch":      time.Unix(0, 0).UTC(),
		"now":             now,
		"one day ago":     now.Add(-24 * time.Hour),
	}

	for name, tm := range times {
		t.Run(name, func(t *testing.T) {
			ts := TimestampFromTime(tm)
			assert.Equal(t, tm.UnixMilli(), ts.UnixMilli())
			assert.Equal(t, ts, TimestampFromUnixMilli(ts.UnixMilli()))

			// Raw directory values carry sub-millisecond ticks that do not survive the trip.
			raw := ts + 9_999
			back := TimestampFromUnixMilli(raw.UnixMilli())
			assert.LessOrEqual(t, int64(raw-back), ticksPerMilli-1)
			assert.GreaterOrEqual(t, int64(raw-back), int64(0))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp(" 133485408000000000 ")
	require.NoError(t, err)
	assert.Equal(t, Timestamp(133485408000000000), ts)
	assert.Equal(t, "133485408000000000", ts.String())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}
