// Package boot drives a token from idle to a connected, loaded application.
package boot

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/nfps-dev/nfp-bootloader/internal/nfpx"
)

var ErrInvalidTransition = errors.New("boot: invalid state transition")

type State int

const (
	Idle State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Transition struct {
	From    State
	To      State
	Attempt string
	Err     error
}

// Status is a point-in-time view of the machine.
type Status struct {
	State     State  `json:"state"`
	Attempt   string `json:"attempt,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Machine is the boot state machine:
//
//	idle -> connecting -> connected
//	             |
//	             +-----> failed -> idle (Reset)
//
// The namespace is published only on the way into connected.
type Machine struct {
	mu      sync.RWMutex
	state   State
	attempt string
	lastErr error
	ns      *nfpx.Namespace
	subs    []func(Transition)
}

func NewMachine() *Machine {
	return &Machine{}
}

func (m *Machine) move(from, to State, apply func()) error {
	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s from %s", from, to, cur)
	}
	m.state = to
	if apply != nil {
		apply()
	}
	t := Transition{From: from, To: to, Attempt: m.attempt, Err: m.lastErr}
	subs := append([]func(Transition){}, m.subs...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(t)
	}
	return nil
}

// Begin starts a boot attempt.
func (m *Machine) Begin(attempt string) error {
	return m.move(Idle, Connecting, func() {
		m.attempt = attempt
		m.lastErr = nil
	})
}

// Succeed publishes ns and enters connected.
func (m *Machine) Succeed(ns *nfpx.Namespace) error {
	if ns == nil {
		return errors.New("boot: connected without a namespace")
	}
	return m.move(Connecting, Connected, func() { m.ns = ns })
}

func (m *Machine) Fail(err error) error {
	if err == nil {
		err = errors.New("boot failed")
	}
	return m.move(Connecting, Failed, func() { m.lastErr = err })
}

// Reset returns a failed machine to idle so it can boot again.
func (m *Machine) Reset() error {
	return m.move(Failed, Idle, func() { m.lastErr = nil })
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Namespace is non-nil exactly when the machine is connected.
func (m *Machine) Namespace() *nfpx.Namespace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Connected {
		return nil
	}
	return m.ns
}

func (m *Machine) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Status{State: m.state, Attempt: m.attempt}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Subscribe registers fn for every later transition. Callbacks run on the transitioning
// goroutine and must not call back into the machine's transitions.
func (m *Machine) Subscribe(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}
