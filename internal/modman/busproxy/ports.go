package busproxy

import (
	"fmt"
	"sync"
)

// PortState is one port's binding status.
type PortState int

const (
	PortAvailable PortState = iota
	PortRequested
	PortBound
	// PortUnavailable is a sticky failure state: a port that could not be
	// opened stays out of rotation until the process restarts.
	PortUnavailable
)

func (s PortState) String() string {
	switch s {
	case PortAvailable:
		return "available"
	case PortRequested:
		return "requested"
	case PortBound:
		return "bound"
	case PortUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// PortStatus pairs a state with the component involved. ComponentID is
// empty only for Available.
type PortStatus struct {
	State       PortState
	ComponentID string
}

// PortTable tracks the binding status of every named hardware port. It is
// deliberately independent of the module/component tables so a failed
// component cannot leak ownership of a port.
type PortTable struct {
	mu    sync.Mutex
	ports map[string]PortStatus
}

// NewPortTable creates an empty table.
func NewPortTable() *PortTable {
	return &PortTable{ports: make(map[string]PortStatus)}
}

// Get returns a port's status; unknown ports are Available.
func (t *PortTable) Get(port string) PortStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ports[port]
}

// Request marks a port wanted by a component. Legal only from Available.
func (t *PortTable) Request(port, componentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := t.ports[port]
	if status.State != PortAvailable {
		return fmt.Errorf("port %s is %s (component %s)", port, status.State, status.ComponentID)
	}
	t.ports[port] = PortStatus{State: PortRequested, ComponentID: componentID}
	return nil
}

// Bind gives a component exclusive ownership of a port it requested.
// Binding fails fast; no retry is attempted here.
func (t *PortTable) Bind(port, componentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := t.ports[port]
	if status.State != PortRequested || status.ComponentID != componentID {
		return fmt.Errorf("port %s is %s (component %s), cannot bind for %s",
			port, status.State, status.ComponentID, componentID)
	}
	t.ports[port] = PortStatus{State: PortBound, ComponentID: componentID}
	return nil
}

// Release returns a bound or requested port to Available. Unavailable is
// sticky and survives a release attempt.
func (t *PortTable) Release(port string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ports[port].State == PortUnavailable {
		return
	}
	t.ports[port] = PortStatus{State: PortAvailable}
}

// MarkUnavailable records a port that failed to open.
func (t *PortTable) MarkUnavailable(port, componentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ports[port] = PortStatus{State: PortUnavailable, ComponentID: componentID}
}
