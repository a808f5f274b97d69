package registry

import (
	"strconv"

	"escrow-backend/core/escrow"

	"github.com/ethereum/go-ethereum/common"
)

func merge(prev, next escrow.Job) (escrow.Job, error) {
	id := prev.ID
	if next.Client != (common.Address{}) && next.Client != prev.Client {
		return escrow.Job{}, escrow.Consistency(id, "client_address", prev.Client.Hex(), next.Client.Hex())
	}
	if next.Freelancer != (common.Address{}) && next.Freelancer != prev.Freelancer {
		return escrow.Job{}, escrow.Consistency(id, "freelancer_address", prev.Freelancer.Hex(), next.Freelancer.Hex())
	}
	if next.Escrow != (common.Address{}) && next.Escrow != prev.Escrow {
		return escrow.Job{}, escrow.Consistency(id, "escrow_address", prev.Escrow.Hex(), next.Escrow.Hex())
	}
	if next.Amount != nil && prev.Amount != nil && next.Amount.Cmp(prev.Amount) != 0 {
		return escrow.Job{}, escrow.Consistency(id, "amount", prev.Amount, next.Amount)
	}
	if next.MetadataHash != "" && prev.MetadataHash != "" && next.MetadataHash != prev.MetadataHash {
		return escrow.Job{}, escrow.Consistency(id, "metadata_hash", prev.MetadataHash, next.MetadataHash)
	}
	if !next.CreatedAt.IsZero() && !prev.CreatedAt.IsZero() && !next.CreatedAt.Equal(prev.CreatedAt) {
		return escrow.Job{}, escrow.Consistency(id, "created_at", prev.CreatedAt, next.CreatedAt)
	}

	out := prev.Clone()
	if out.Amount == nil && next.Amount != nil {
		out.Amount = next.Clone().Amount
	}
	if out.MetadataHash == "" {
		out.MetadataHash = next.MetadataHash
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = next.CreatedAt
	}
	if next.State == nil {
		return out, nil
	}

	from, to := prev.Status(), next.Status()
	switch {
	case escrow.Rework(from, to):
		out.State = next.State
	case escrow.Reachable(from, to):
		if workConflict(prev, next.State) {
			if !reworked(from, to) {
				return escrow.Job{}, escrow.Consistency(id, "work_hash", activeWork(prev), stateWork(next.State))
			}
			out.State = next.State
			break
		}
		out.State = carryWork(prev, next.State)
	default:
		return escrow.Job{}, escrow.Consistency(id, "status", from, to)
	}
	return out, nil
}

// reworked reports whether a chain read at to with a new work hash can be
// explained by a rework cycle completed between two reads of a job at from.
func reworked(from, to escrow.Status) bool {
	return escrow.Rework(from, escrow.StatusInProgress) && escrow.Reachable(escrow.StatusInProgress, to)
}

// workConflict reports a second work hash appearing within one submission cycle.
func workConflict(prev escrow.Job, next escrow.State) bool {
	have, got := activeWork(prev), stateWork(next)
	return have != "" && got != "" && have != got
}

func sameWork(prev escrow.Job, next escrow.State) bool {
	return !workConflict(prev, next)
}

func activeWork(j escrow.Job) string {
	h, _ := j.WorkHash()
	return h
}

func stateWork(s escrow.State) string {
	return activeWork(escrow.Job{State: s})
}

// carryWork keeps the active work hash when next does not repeat it.
func carryWork(prev escrow.Job, next escrow.State) escrow.State {
	h := activeWork(prev)
	if h == "" || stateWork(next) != "" {
		return next
	}
	switch s := next.(type) {
	case escrow.Submitted:
		s.WorkHash = h
		return s
	case escrow.Reviewing:
		s.WorkHash = h
		return s
	case escrow.Completed:
		s.WorkHash = h
		return s
	case escrow.Disputed:
		s.WorkHash = h
		return s
	}
	return next
}

func uintString(v uint64) string {
	return strconv.FormatUint(v, 10)
}
