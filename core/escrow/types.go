package escrow

import (
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Role selects which side of a job an address is queried for.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
)

// ParseRole accepts "client" or "freelancer" in any case.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleClient:
		return RoleClient, true
	case RoleFreelancer:
		return RoleFreelancer, true
	}
	return "", false
}

// State is the lifecycle variant of a job. Each concrete type carries only the
// fields that exist at that status.
type State interface {
	Status() Status
}

// Funded is the first state a job is observable in; creation and funding are a
// single ledger call.
type Funded struct{}

// Accepted means the freelancer took the job.
type Accepted struct {
	At time.Time
}

// InProgress means work has started. A job can re-enter this state after the
// ledger sends a submission back for rework.
type InProgress struct {
	At time.Time
}

// Submitted carries the deliverable hash of the current submission cycle.
type Submitted struct {
	WorkHash string
	At       time.Time
}

// Reviewing is the client review window for a submission.
type Reviewing struct {
	WorkHash string
	At       time.Time
}

// Completed is terminal; funds were released.
type Completed struct {
	WorkHash string
	At       time.Time
}

// Disputed is terminal from the orchestrator's point of view; resolution is ledger-side.
type Disputed struct {
	WorkHash string
	At       time.Time
}

func (Funded) Status() Status     { return StatusFunded }
func (Accepted) Status() Status   { return StatusAccepted }
func (InProgress) Status() Status { return StatusInProgress }
func (Submitted) Status() Status  { return StatusSubmitted }
func (Reviewing) Status() Status  { return StatusReviewing }
func (Completed) Status() Status  { return StatusCompleted }
func (Disputed) Status() Status   { return StatusDisputed }

// NewState builds the variant for status. workHash is dropped for statuses that
// cannot carry one.
func NewState(status Status, workHash string, at time.Time) (State, bool) {
	switch status {
	case StatusCreated, StatusFunded:
		return Funded{}, true
	case StatusAccepted:
		return Accepted{At: at}, true
	case StatusInProgress:
		return InProgress{At: at}, true
	case StatusSubmitted:
		return Submitted{WorkHash: workHash, At: at}, true
	case StatusReviewing:
		return Reviewing{WorkHash: workHash, At: at}, true
	case StatusCompleted:
		return Completed{WorkHash: workHash, At: at}, true
	case StatusDisputed:
		return Disputed{WorkHash: workHash, At: at}, true
	}
	return nil, false
}

// Job is one escrow engagement between a client and a freelancer.
type Job struct {
	ID           uint64
	Client       common.Address
	Freelancer   common.Address
	Escrow       common.Address
	Amount       *big.Int
	MetadataHash string
	CreatedAt    time.Time
	State        State
}

// Status returns the lifecycle status, treating a missing state as funded.
func (j Job) Status() Status {
	if j.State == nil {
		return StatusFunded
	}
	return j.State.Status()
}

// WorkHash returns the active deliverable hash, if the current state has one.
func (j Job) WorkHash() (string, bool) {
	switch s := j.State.(type) {
	case Submitted:
		return s.WorkHash, s.WorkHash != ""
	case Reviewing:
		return s.WorkHash, s.WorkHash != ""
	case Completed:
		return s.WorkHash, s.WorkHash != ""
	case Disputed:
		return s.WorkHash, s.WorkHash != ""
	}
	return "", false
}

// CompletedAt is the chain time the job reached completed.
func (j Job) CompletedAt() (time.Time, bool) {
	if s, ok := j.State.(Completed); ok && !s.At.IsZero() {
		return s.At, true
	}
	return time.Time{}, false
}

// HasRole reports whether addr is the given party of the job.
func (j Job) HasRole(addr common.Address, role Role) bool {
	switch role {
	case RoleClient:
		return j.Client == addr
	case RoleFreelancer:
		return j.Freelancer == addr
	}
	return false
}

// Clone returns a copy that shares no mutable memory with j.
func (j Job) Clone() Job {
	out := j
	if j.Amount != nil {
		out.Amount = new(big.Int).Set(j.Amount)
	}
	return out
}

type jobJSON struct {
	ID           uint64     `json:"id"`
	Client       string     `json:"client_address"`
	Freelancer   string     `json:"freelancer_address"`
	Escrow       string     `json:"escrow_address"`
	Amount       string     `json:"amount"`
	AmountWei    string     `json:"amount_wei"`
	MetadataHash string     `json:"metadata_hash"`
	WorkHash     string     `json:"work_hash,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// MarshalJSON flattens the state variant into a status/work_hash pair.
func (j Job) MarshalJSON() ([]byte, error) {
	out := jobJSON{
		ID:           j.ID,
		Client:       j.Client.Hex(),
		Freelancer:   j.Freelancer.Hex(),
		Escrow:       j.Escrow.Hex(),
		MetadataHash: j.MetadataHash,
		Status:       j.Status(),
		CreatedAt:    j.CreatedAt,
	}
	if j.Amount != nil {
		out.Amount = FormatAmount(j.Amount)
		out.AmountWei = j.Amount.String()
	}
	if h, ok := j.WorkHash(); ok {
		out.WorkHash = h
	}
	if at, ok := j.CompletedAt(); ok {
		out.CompletedAt = &at
	}
	return json.Marshal(out)
}

// Session is the active signing identity.
type Session struct {
	Address     common.Address `json:"address"`
	IsConnected bool           `json:"is_connected"`
	// Balance is advisory; the ledger decides whether a transaction is affordable.
	Balance *big.Int `json:"balance,omitempty"`
}

// Signer is the identity captured when a write is submitted. Results are
// attributed to it even if the session switches accounts before confirmation.
type Signer struct {
	Address common.Address
	Sign    SignFunc
}

// SignFunc signs tx for chainID with the captured identity. It blocks while the
// provider waits for human approval.
type SignFunc func(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
