package domain

import "time"

type Status string

const (
	StatusUnknown Status = "UNKNOWN"
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
)

// Verdict is the binary outcome of a single probe.
type Verdict string

const (
	VerdictUp   Verdict = "UP"
	VerdictDown Verdict = "DOWN"
)

// Transition describes the effect of one applied verdict.
type Transition struct {
	From         Status
	To           Status
	At           time.Time
	Changed      bool
	ShouldNotify bool
}

// Apply is the endpoint state machine. The first check ever (from UNKNOWN)
// never notifies; afterwards only a flip into DOWN does.
func Apply(prev Status, v Verdict, now time.Time) Transition {
	next := StatusDown
	if v == VerdictUp {
		next = StatusUp
	}
	changed := next != prev
	return Transition{
		From:         prev,
		To:           next,
		At:           now,
		Changed:      changed,
		ShouldNotify: changed && next == StatusDown && prev != StatusUnknown,
	}
}
