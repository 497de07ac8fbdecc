package quota

import "time"

const dayFormat = "2006-01-02"

// dayKey returns the calendar day at the user's UTC offset, in minutes east
// of UTC. The quota day boundary follows the user's clock, not the server's.
func dayKey(now time.Time, tzOffsetMin int) string {
	return now.UTC().Add(time.Duration(tzOffsetMin) * time.Minute).Format(dayFormat)
}

// nextReset returns the user's next local midnight expressed in UTC.
func nextReset(now time.Time, tzOffsetMin int) time.Time {
	offset := time.Duration(tzOffsetMin) * time.Minute
	local := now.UTC().Add(offset)
	midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Add(-offset)
}

// sweepCutoff returns yesterday's day key relative to now, server UTC.
// Entries strictly older than the cutoff are stale for every timezone the
// service supports.
func sweepCutoff(now time.Time) string {
	return now.UTC().AddDate(0, 0, -1).Format(dayFormat)
}
