package clock

import "time"

// System reads the wall clock.
type System struct{}

// NowUnix returns the current unix time in seconds.
func (System) NowUnix() int64 {
	return time.Now().Unix()
}
