package application

import "sync/atomic"

// SessionState is the lifecycle state of a Session.
type SessionState uint32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateRecovering
	StateShuttingDown
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRecovering:
		return "recovering"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type stateManager struct {
	state uint32
}

func (sm *stateManager) get() SessionState {
	return SessionState(atomic.LoadUint32(&sm.state))
}

func (sm *stateManager) set(s SessionState) {
	atomic.StoreUint32(&sm.state, uint32(s))
}

// transition moves from -> to and reports whether the swap happened.
func (sm *stateManager) transition(from, to SessionState) bool {
	return atomic.CompareAndSwapUint32(&sm.state, uint32(from), uint32(to))
}

func (sm *stateManager) transitionFrom(to SessionState, from ...SessionState) bool {
	for _, f := range from {
		if sm.transition(f, to) {
			return true
		}
	}
	return false
}
