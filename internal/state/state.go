// Package state holds the operating-state machine and the published slot
// that collaborators read the latest snapshot and state from.
package state

import (
	"codeberg.org/mutker/sawctl/internal/errors"
)

// SystemState is the operating state of the saw.
type SystemState int

const (
	Idle SystemState = iota
	Preparing
	Ready
	Cutting
	Completed
	Error
)

var stateNames = [...]string{
	Idle:      "idle",
	Preparing: "preparing",
	Ready:     "ready",
	Cutting:   "cutting",
	Completed: "completed",
	Error:     "error",
}

func (s SystemState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Names returns every state name in declaration order.
func Names() []string {
	return append([]string(nil), stateNames[:]...)
}

// Event drives a transition.
type Event int

const (
	Start Event = iota
	DelayElapsed
	DescentActive
	CutComplete
	Acknowledge
	Fault
	Reset
)

var eventNames = [...]string{
	Start:         "start",
	DelayElapsed:  "delay_elapsed",
	DescentActive: "descent_active",
	CutComplete:   "cut_complete",
	Acknowledge:   "acknowledge",
	Fault:         "fault",
	Reset:         "reset",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[e]
}

type transition struct {
	from  SystemState
	event Event
}

var transitions = map[transition]SystemState{
	{Idle, Start}:             Preparing,
	{Preparing, DelayElapsed}: Ready,
	{Ready, DescentActive}:    Cutting,
	{Cutting, CutComplete}:    Completed,
	{Completed, Acknowledge}:  Idle,
	{Error, Reset}:            Idle,
}

// Next returns the state event leads to from s. Fault reaches Error from
// every state; anything not in the table is an invalid transition.
func Next(s SystemState, e Event) (SystemState, error) {
	if e == Fault {
		return Error, nil
	}
	if next, ok := transitions[transition{s, e}]; ok {
		return next, nil
	}
	return s, errors.New().WithData(ErrInvalidTransition, struct {
		State string
		Event string
	}{s.String(), e.String()})
}

// Machine is the single owner of the current state. It is not safe for
// concurrent use; only the control loop drives it.
type Machine struct {
	current SystemState
}

// NewMachine starts in Idle.
func NewMachine() *Machine {
	return &Machine{current: Idle}
}

func (m *Machine) Current() SystemState {
	return m.current
}

// Fire applies e. On an invalid event the state is unchanged and the
// error is returned.
func (m *Machine) Fire(e Event) (from, to SystemState, err error) {
	from = m.current
	to, err = Next(from, e)
	if err != nil {
		return from, from, err
	}
	m.current = to
	return from, to, nil
}
