package schedule

import "time"

// InQuietHours reports whether t falls into one of the configured UTC
// quiet hours.
func InQuietHours(t time.Time, quietHours []int) bool {
	h := t.UTC().Hour()
	for _, q := range quietHours {
		if q == h {
			return true
		}
	}
	return false
}

// NextWindow returns the next time at or after now outside quiet hours,
// searching up to two days ahead.
func NextWindow(now time.Time, quietHours []int) time.Time {
	for i := 0; i < 48; i++ {
		cand := now.Add(time.Duration(i) * time.Hour)
		if !InQuietHours(cand, quietHours) {
			return cand
		}
	}
	return now.Add(15 * time.Minute)
}
