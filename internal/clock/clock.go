package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time for components that reason about windows and
// deadlines, so tests can advance time deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystem returns the wall clock.
func NewSystem() Clock {
	return systemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)
