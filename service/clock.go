package service

import "time"

// Clock abstracts the wall clock used to stamp synthesized log entries.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}
