package usagegate

import "fmt"

// State is a step of one feature invocation.
type State string

const (
	StateIdle                State = "idle"
	StateConfirmationPending State = "confirmation_pending"
	StateConfirmed           State = "confirmed"
	StateCharging            State = "charging"
	StateAllowed             State = "allowed"
	StateDenied              State = "denied"
	StateCancelled           State = "cancelled"
	// StateHeld means the cost is reserved and waits for the feature's outcome.
	StateHeld State = "held"
	// StateReleased ends an invocation whose feature failed after coins were held.
	StateReleased State = "released"
)

var transitions = map[State][]State{
	StateIdle:                {StateConfirmationPending, StateCharging},
	StateConfirmationPending: {StateConfirmed, StateCancelled},
	StateConfirmed:           {StateCharging},
	StateCharging:            {StateAllowed, StateDenied, StateHeld},
	StateHeld:                {StateAllowed, StateReleased},
}

func (s State) String() string { return string(s) }

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// invocation tracks the path one request takes through the gate. The first illegal
// transition is kept in err and every later transition is ignored.
type invocation struct {
	state State
	path  []State
	err   error
}

func newInvocation() *invocation {
	return resumeInvocation(StateIdle)
}

// resumeInvocation picks up an invocation that an earlier call left in from.
func resumeInvocation(from State) *invocation {
	return &invocation{state: from, path: []State{from}}
}

func (i *invocation) to(next State) {
	if i.err != nil {
		return
	}
	for _, allowed := range transitions[i.state] {
		if allowed == next {
			i.state = next
			i.path = append(i.path, next)
			return
		}
	}
	i.err = fmt.Errorf("usage gate: illegal transition %s -> %s", i.state, next)
}
