package live

// State is the connection state of a [Manager].
type State int

const (
	// StateDisconnected is the initial state and the state after Disconnect or
	// a clean remote close.
	StateDisconnected State = iota

	// StateConnecting covers device acquisition and session setup.
	StateConnecting

	// StateConnected means the remote session reported open and capture runs.
	StateConnected

	// StateError is entered on a missing credential, device or session open
	// failure, or a transport error.
	StateError
)

// String returns the upper-case state name, e.g. "CONNECTED".
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// canConnect reports whether Connect may start a new attempt from s.
func (s State) canConnect() bool {
	return s == StateDisconnected || s == StateError
}
