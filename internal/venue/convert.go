package venue

import (
	"strconv"
	"time"
)

// Float coerces the loosely typed numerics venues put on the wire (string,
// number, or absent) into a float64. Unparseable values become 0; the caller
// counts the frame as a parse error where that matters.
func Float(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case int64:
		return float64(n)
	}
	return 0
}

// UnixAuto interprets a venue timestamp as milliseconds when it is large
// enough to be one, seconds otherwise.
func UnixAuto(ts float64) time.Time {
	if ts > 1e12 {
		return time.UnixMilli(int64(ts))
	}
	return time.Unix(int64(ts), 0)
}
