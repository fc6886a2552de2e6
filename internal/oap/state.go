package oap

import "fmt"

// State is a connection's position in the HELLO→START→DATA*→END machine
// named in spec.md §4.5.
type State uint8

const (
	StateInit State = iota
	StateHelloed
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHelloed:
		return "HELLOED"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ProtoError is raised when a frame is invalid for the connection's
// current state; the caller responds with an ERROR frame {code:"proto"}.
type ProtoError struct {
	State State
	Got   FrameType
	Want  FrameType
}

func (e *ProtoError) Error() string {
	return fmt.Sprintf("oap: in state %s, expected %s, got %s", e.State, e.Want, e.Got)
}

// machine advances connection state one frame at a time. It holds no I/O;
// Server.runConn drives it against frames read from the wire.
type machine struct {
	state State
}

// next validates fr against the current state and returns the resulting
// state, or a *ProtoError if fr is not valid here.
func (m *machine) next(fr FrameType) (State, error) {
	switch m.state {
	case StateInit:
		if fr != FrameHello {
			return m.state, &ProtoError{State: m.state, Got: fr, Want: FrameHello}
		}
		m.state = StateHelloed
	case StateHelloed:
		if fr != FrameStart {
			return m.state, &ProtoError{State: m.state, Got: fr, Want: FrameStart}
		}
		m.state = StateStreaming
	case StateStreaming:
		switch fr {
		case FrameData:
			// state unchanged
		case FrameEnd:
			m.state = StateClosed
		default:
			return m.state, &ProtoError{State: m.state, Got: fr, Want: FrameData}
		}
	case StateClosed:
		return m.state, &ProtoError{State: m.state, Got: fr}
	}
	return m.state, nil
}
