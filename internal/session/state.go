package session

import "fmt"

// State is the lifecycle stage of the BLE session.
type State int

const (
	Idle State = iota
	AwaitingPermission
	Scanning
	Connecting
	DiscoveringServices
	Subscribing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitingPermission:
		return "AwaitingPermission"
	case Scanning:
		return "Scanning"
	case Connecting:
		return "Connecting"
	case DiscoveringServices:
		return "DiscoveringServices"
	case Subscribing:
		return "Subscribing"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// next is the single forward edge out of each pipeline state.
var next = map[State]State{
	Idle:                AwaitingPermission,
	AwaitingPermission:  Scanning,
	Scanning:            Connecting,
	Connecting:          DiscoveringServices,
	DiscoveringServices: Subscribing,
	Subscribing:         Ready,
}

// CanTransition reports whether from -> to is a legal edge. Every state may
// fall to Failed or reset to Idle; otherwise only the next pipeline step is allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return false
	}
	if to == Failed || to == Idle {
		return true
	}
	n, ok := next[from]
	return ok && n == to
}

// NotConnectedText is shown whenever the session is not Ready.
const NotConnectedText = "BLE Not Connected"

// Status is a snapshot of the session for presentation.
type Status struct {
	State State
	// Reason is set only in Failed.
	Reason error
	// DeviceName is the advertised name of the connected peripheral, set only in Ready.
	DeviceName string
}

// Text renders the status line.
func (s Status) Text() string {
	if s.State == Ready {
		return "Connected to: " + s.DeviceName
	}
	return NotConnectedText
}

// EventKind distinguishes status changes from presentation resets.
type EventKind int

const (
	// EventStatus reports a new Status.
	EventStatus EventKind = iota
	// EventReset asks the presentation to zero its target angle and return to automatic mode.
	EventReset
)

func (k EventKind) String() string {
	if k == EventReset {
		return "reset"
	}
	return "status"
}

// Event is delivered on Manager.Events in emission order.
type Event struct {
	Kind   EventKind
	Status Status
}
