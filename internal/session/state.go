package session

import "fmt"

// State is a step of the launch sequence.
type State int

const (
	Unstarted State = iota
	EnvironmentPrepared
	ContextBuilt
	ProcessSpawned
	GateInstalled
	PresentationReady
	Running
	Terminated
)

var stateNames = [...]string{
	Unstarted:           "Unstarted",
	EnvironmentPrepared: "EnvironmentPrepared",
	ContextBuilt:        "ContextBuilt",
	ProcessSpawned:      "ProcessSpawned",
	GateInstalled:       "GateInstalled",
	PresentationReady:   "PresentationReady",
	Running:             "Running",
	Terminated:          "Terminated",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// validTransition reports whether from may move to to. The sequence is
// linear up to Running, and only Running ends in Terminated.
func validTransition(from, to State) bool {
	switch from {
	case Running:
		return to == Terminated
	case Terminated:
		return false
	default:
		return to == from+1
	}
}
