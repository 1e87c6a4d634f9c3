package connector

// State is a node in the connector runtime's state machine:
// starting -> reading <-> (rate_limited | reconnecting) -> draining -> stopped.
type State string

const (
	StateStarting     State = "starting"
	StateReading      State = "reading"
	StateRateLimited  State = "rate_limited"
	StateReconnecting State = "reconnecting"
	StateDraining     State = "draining"
	StateStopped      State = "stopped"
)

// transitions enumerates the legal edges of the connector state machine.
var transitions = map[State]map[State]bool{
	StateStarting:     {StateReading: true},
	StateReading:      {StateRateLimited: true, StateReconnecting: true, StateDraining: true},
	StateRateLimited:  {StateReading: true, StateDraining: true},
	StateReconnecting: {StateReading: true, StateDraining: true},
	StateDraining:     {StateStopped: true},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}
