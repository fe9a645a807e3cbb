package ratelimit

import "time"

// Class groups routes by sensitivity. Authentication probes get the tightest
// budget, money movement next, metered executions after that, and plain
// reads the loosest.
type Class string

const (
	ClassAuth      Class = "auth"
	ClassPayment   Class = "payment"
	ClassExecution Class = "execution"
	ClassGeneral   Class = "general"
)

var presets = map[Class]Limit{
	ClassAuth:      {Requests: 10, Window: time.Minute},
	ClassPayment:   {Requests: 20, Window: time.Minute},
	ClassExecution: {Requests: 30, Window: time.Minute},
	ClassGeneral:   {Requests: 120, Window: time.Minute},
}

// ForClass returns the class's window budget, defaulting to the general
// preset for unknown classes.
func ForClass(c Class) Limit {
	if limit, ok := presets[c]; ok {
		return limit
	}
	return presets[ClassGeneral]
}
