package api

import (
	"time"

	"escrow-backend/core/escrow"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type FeeResponse struct {
	Fee    string `json:"fee"`
	FeeWei string `json:"fee_wei"`
}

type JobsResponse struct {
	Jobs  []escrow.Job `json:"jobs"`
	Total int          `json:"total"`
}

// JobResponse documents the flattened job encoding.
type JobResponse struct {
	ID           uint64        `json:"id"`
	Client       string        `json:"client_address"`
	Freelancer   string        `json:"freelancer_address"`
	Escrow       string        `json:"escrow_address"`
	Amount       string        `json:"amount"`
	AmountWei    string        `json:"amount_wei"`
	MetadataHash string        `json:"metadata_hash"`
	WorkHash     string        `json:"work_hash,omitempty"`
	Status       escrow.Status `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

type PendingItem struct {
	ID        string        `json:"id"`
	Action    string        `json:"action"`
	JobID     uint64        `json:"job_id,omitempty"`
	Escrow    string        `json:"escrow"`
	Signer    string        `json:"signer"`
	Target    escrow.Status `json:"target"`
	TxHash    string        `json:"tx_hash,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

type PendingResponse struct {
	Pending []PendingItem `json:"pending"`
	Total   int           `json:"total"`
}
