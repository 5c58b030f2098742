package session

// State is the lifecycle phase of a Controller.
type State int

const (
	StateInit State = iota
	StateAcquiringMedia
	StateRegisteringPeer
	StateJoiningRoom
	StateConnected
	StateLeaving
	StateClosed
	StateError
)

var stateNames = [...]string{
	StateInit:            "INIT",
	StateAcquiringMedia:  "ACQUIRING_MEDIA",
	StateRegisteringPeer: "REGISTERING_PEER",
	StateJoiningRoom:     "JOINING_ROOM",
	StateConnected:       "CONNECTED",
	StateLeaving:         "LEAVING",
	StateClosed:          "CLOSED",
	StateError:           "ERROR",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateClosed || s == StateError }
