package clock

import "time"

//go:generate mockgen -destination=mock/mock.go -package=mock_clock -source=clock.go

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

func NewClock() Clock {
	return &realClock{}
}

// fixedClock always reports the same instant. Used to make persisted
// timestamps predictable.
type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time {
	return c.at
}

func NewFixedClock(at time.Time) Clock {
	return fixedClock{at: at.UTC()}
}
