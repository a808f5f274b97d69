package escrow

import "fmt"

// Status is the lifecycle position of a job.
type Status string

const (
	StatusCreated    Status = "created"
	StatusFunded     Status = "funded"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusReviewing  Status = "reviewing"
	StatusCompleted  Status = "completed"
	StatusDisputed   Status = "disputed"
)

// chainStatuses is the escrow contract's enum order.
var chainStatuses = []Status{
	StatusCreated,
	StatusFunded,
	StatusAccepted,
	StatusInProgress,
	StatusSubmitted,
	StatusReviewing,
	StatusCompleted,
	StatusDisputed,
}

// StatusFromChain maps the escrow contract's uint8 status.
func StatusFromChain(v uint8) (Status, error) {
	if int(v) >= len(chainStatuses) {
		return "", fmt.Errorf("unknown escrow status %d", v)
	}
	s := chainStatuses[v]
	// Creation is atomic with funding, so the ledger's created is never observable
	// as a distinct state.
	if s == StatusCreated {
		return StatusFunded, nil
	}
	return s, nil
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDisputed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, c := range chainStatuses {
		if c == s {
			return true
		}
	}
	return false
}

// Action is an escrow-instance write.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionStart   Action = "start"
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionDispute Action = "dispute"
)

type edge struct {
	from []Status
	to   Status
}

// approve and dispute are accepted from submitted as well as reviewing: once the
// review timeout elapses the ledger lets either party approve straight from
// submitted, and whether it has elapsed is only known ledger-side.
var actionEdges = map[Action]edge{
	ActionAccept:  {from: []Status{StatusFunded}, to: StatusAccepted},
	ActionStart:   {from: []Status{StatusAccepted}, to: StatusInProgress},
	ActionSubmit:  {from: []Status{StatusInProgress}, to: StatusSubmitted},
	ActionApprove: {from: []Status{StatusSubmitted, StatusReviewing}, to: StatusCompleted},
	ActionDispute: {from: []Status{StatusSubmitted, StatusReviewing}, to: StatusDisputed},
}

// Actions lists the escrow writes in lifecycle order.
func Actions() []Action {
	return []Action{ActionAccept, ActionStart, ActionSubmit, ActionApprove, ActionDispute}
}

// Target is the status the action leads to.
func (a Action) Target() Status {
	return actionEdges[a].to
}

// Predecessors lists the statuses the action may be taken from.
func (a Action) Predecessors() []Status {
	return append([]Status(nil), actionEdges[a].from...)
}

// Next validates a against from and returns the resulting status.
func Next(from Status, a Action) (Status, error) {
	e, ok := actionEdges[a]
	if !ok {
		return "", NewError(ErrInvalidTransition, string(a), fmt.Sprintf("unknown action %q", a), nil)
	}
	for _, f := range e.from {
		if f == from {
			return e.to, nil
		}
	}
	return "", NewError(ErrInvalidTransition, string(a), fmt.Sprintf("cannot %s a job in status %s", a, from), nil)
}

// forward is the graph of edges the ledger can take on its own. submitted ->
// reviewing has no orchestrator write; it is only ever observed.
var forward = map[Status][]Status{
	StatusFunded:     {StatusAccepted},
	StatusAccepted:   {StatusInProgress},
	StatusInProgress: {StatusSubmitted},
	StatusSubmitted:  {StatusReviewing, StatusCompleted, StatusDisputed},
	StatusReviewing:  {StatusCompleted, StatusDisputed},
}

// Step reports whether to is exactly one edge away from from.
func Step(from, to Status) bool {
	for _, n := range forward[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Reachable reports whether to can follow from along forward edges.
func Reachable(from, to Status) bool {
	if from == to {
		return true
	}
	seen := map[Status]bool{from: true}
	queue := []Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range forward[cur] {
			if n == to {
				return true
			}
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

// Rework reports the ledger sending a submission back to in_progress.
func Rework(from, to Status) bool {
	return to == StatusInProgress && (from == StatusSubmitted || from == StatusReviewing)
}
