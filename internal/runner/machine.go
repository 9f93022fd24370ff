package runner

import (
	"fmt"
	"sync"

	"stripd/pkg/types"
)

// Machine is the validated lifecycle state of one extraction run:
// idle -> preparing -> running -> {succeeded, failed, cancelled}.
type Machine struct {
	mu    sync.Mutex
	state types.RunState
}

// NewMachine starts in the idle state.
func NewMachine() *Machine { return &Machine{state: types.StateIdle} }

// State returns the current state.
func (m *Machine) State() types.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To performs an atomic validated transition.
func (m *Machine) To(next types.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !allowedTransition(m.state, next) {
		return fmt.Errorf("disallowed run-state transition: %s -> %s", m.state, next)
	}
	m.state = next
	return nil
}

func allowedTransition(from, to types.RunState) bool {
	switch from {
	case types.StateIdle:
		return to == types.StatePreparing
	case types.StatePreparing:
		return to == types.StateRunning || to == types.StateFailed || to == types.StateCancelled
	case types.StateRunning:
		return to == types.StateSucceeded || to == types.StateFailed || to == types.StateCancelled
	default:
		return false
	}
}
