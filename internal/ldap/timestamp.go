package ldap

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// epochOffsetMillis is the distance between 1601-01-01 and 1970-01-01 in milliseconds.
const epochOffsetMillis int64 = 11_644_473_600_000

// directoryEpoch is timestamp zero. Earlier instants have no directory encoding.
var directoryEpoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// ticksPerMilli is the number of 100ns directory ticks in one millisecond.
const ticksPerMilli int64 = 10_000

// Timestamp counts 100-nanosecond intervals since 1601-01-01T00:00:00Z,
// the format of lastLogonTimestamp and similar AD attributes.
type Timestamp int64

// TimestampFromUnixMilli converts Unix milliseconds to a directory timestamp.
func TimestampFromUnixMilli(ms int64) Timestamp {
	return Timestamp((ms + epochOffsetMillis) * ticksPerMilli)
}

// TimestampFromTime converts t to a directory timestamp with millisecond precision.
func TimestampFromTime(t time.Time) Timestamp {
	return TimestampFromUnixMilli(t.UnixMilli())
}

// UnixMilli converts back to Unix milliseconds, truncating sub-millisecond ticks.
func (ts Timestamp) UnixMilli() int64 {
	return int64(ts)/ticksPerMilli - epochOffsetMillis
}

// Time returns the UTC time of ts.
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(ts.UnixMilli()).UTC()
}

func (ts Timestamp) String() string {
	return strconv.FormatInt(int64(ts), 10)
}

// ParseTimestamp parses the decimal attribute value.
func ParseTimestamp(v string) (Timestamp, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse directory timestamp %q", v)
	}
	return Timestamp(n), nil
}
