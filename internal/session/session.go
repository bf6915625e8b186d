// Package session gates trading decisions by UTC hour.
package session

import "time"

// Window is a [Start, End) trading window in UTC hours. The zero-to-24
// window admits everything.
type Window struct {
	Start int `json:"start_hour"`
	End   int `json:"end_hour"`
}

// Valid reports whether the window satisfies 0 <= start <= end <= 24.
func (w Window) Valid() bool {
	return w.Start >= 0 && w.Start <= w.End && w.End <= 24
}

// Admits reports whether the timestamp's UTC hour falls inside the window.
func (w Window) Admits(ts time.Time) bool {
	hour := ts.UTC().Hour()
	return hour >= w.Start && hour < w.End
}

// AdmitsWithBuffer additionally rejects timestamps within buffer of the
// window end, so scalp entries do not open right before the session closes.
func (w Window) AdmitsWithBuffer(ts time.Time, buffer time.Duration) bool {
	if !w.Admits(ts) {
		return false
	}
	if w.End >= 24 {
		return true
	}

	utc := ts.UTC()
	end := time.Date(utc.Year(), utc.Month(), utc.Day(), w.End, 0, 0, 0, time.UTC)
	return utc.Add(buffer).Before(end)
}
