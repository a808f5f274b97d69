package ledger

import (
	"math/big"
	"time"

	"escrow-backend/core/escrow"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Created is the decoded JobCreated event.
type Created struct {
	JobID        uint64
	Escrow       common.Address
	Client       common.Address
	Freelancer   common.Address
	Amount       *big.Int
	MetadataHash string
	TxHash       common.Hash
	BlockNumber  uint64
	At           time.Time
}

// Event is a decoded escrow lifecycle event.
type Event struct {
	Name        string
	Escrow      common.Address
	Action      escrow.Action
	Status      escrow.Status
	WorkHash    string
	TxHash      common.Hash
	BlockNumber uint64
	At          time.Time
}

// State returns the variant the event moves its job into.
func (e Event) State() escrow.State {
	s, _ := escrow.NewState(e.Status, e.WorkHash, e.At)
	return s
}

var actionMethods = map[escrow.Action]string{
	escrow.ActionAccept:  "acceptJob",
	escrow.ActionStart:   "startWork",
	escrow.ActionSubmit:  "submitWork",
	escrow.ActionApprove: "approveWork",
	escrow.ActionDispute: "raiseDispute",
}

var actionEvents = map[escrow.Action]string{
	escrow.ActionAccept:  "JobAccepted",
	escrow.ActionStart:   "WorkStarted",
	escrow.ActionSubmit:  "WorkSubmitted",
	escrow.ActionApprove: "JobCompleted",
	escrow.ActionDispute: "DisputeRaised",
}

// EventFor names the event a successful action emits.
func EventFor(a escrow.Action) string {
	return actionEvents[a]
}

// ActionForEvent is the inverse of EventFor.
func ActionForEvent(name string) (escrow.Action, bool) {
	for a, ev := range actionEvents {
		if ev == name {
			return a, true
		}
	}
	return "", false
}

// DecodeCreated finds the JobCreated log emitted by factory in receipt.
func DecodeCreated(receipt *types.Receipt, factory common.Address) (Created, error) {
	ev := FactoryABI.Events["JobCreated"]
	for _, lg := range receipt.Logs {
		if lg.Address != factory || len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
			continue
		}
		fields, err := unpack(ev, lg)
		if err != nil {
			return Created{}, escrow.NewError(escrow.ErrEventNotFound, "create", "malformed JobCreated log", err)
		}
		id, _ := fields["jobId"].(*big.Int)
		if id == nil || !id.IsUint64() {
			return Created{}, escrow.NewError(escrow.ErrEventNotFound, "create", "job id out of range", nil)
		}
		escrowAddr, _ := fields["jobContract"].(common.Address)
		client, _ := fields["client"].(common.Address)
		freelancer, _ := fields["freelancer"].(common.Address)
		amount, _ := fields["amount"].(*big.Int)
		hash, _ := fields["ipfsHash"].(string)
		return Created{
			JobID:        id.Uint64(),
			Escrow:       escrowAddr,
			Client:       client,
			Freelancer:   freelancer,
			Amount:       amount,
			MetadataHash: hash,
			TxHash:       receipt.TxHash,
			BlockNumber:  blockNumber(receipt),
		}, nil
	}
	return Created{}, escrow.NewError(escrow.ErrEventNotFound, "create", "JobCreated missing from receipt "+receipt.TxHash.Hex(), nil)
}

// DecodeTransition finds the event action is expected to emit from
// escrowAddr. At is taken from the event's timestamp argument.
func DecodeTransition(receipt *types.Receipt, escrowAddr common.Address, action escrow.Action) (Event, error) {
	name, ok := actionEvents[action]
	if !ok {
		return Event{}, escrow.NewError(escrow.ErrInvalidTransition, string(action), "unknown action", nil)
	}
	id := EscrowABI.Events[name].ID
	for _, lg := range receipt.Logs {
		if lg.Address != escrowAddr || len(lg.Topics) == 0 || lg.Topics[0] != id {
			continue
		}
		e, err := decodeLifecycle(lg, action)
		if err != nil {
			return Event{}, err
		}
		e.TxHash = receipt.TxHash
		e.BlockNumber = blockNumber(receipt)
		return e, nil
	}
	return Event{}, escrow.NewError(escrow.ErrEventNotFound, string(action), name+" missing from receipt "+receipt.TxHash.Hex(), nil)
}

// DecodeLog decodes a lifecycle event from a filtered log. ok is false for
// logs that are not lifecycle events.
func DecodeLog(lg *types.Log) (Event, bool, error) {
	if len(lg.Topics) == 0 {
		return Event{}, false, nil
	}
	for action, name := range actionEvents {
		if lg.Topics[0] != EscrowABI.Events[name].ID {
			continue
		}
		e, err := decodeLifecycle(lg, action)
		if err != nil {
			return Event{}, true, err
		}
		e.TxHash = lg.TxHash
		e.BlockNumber = lg.BlockNumber
		return e, true, nil
	}
	return Event{}, false, nil
}

func decodeLifecycle(lg *types.Log, action escrow.Action) (Event, error) {
	name := actionEvents[action]
	fields, err := unpack(EscrowABI.Events[name], lg)
	if err != nil {
		return Event{}, escrow.NewError(escrow.ErrEventNotFound, string(action), "malformed "+name+" log", err)
	}
	e := Event{
		Name:   name,
		Escrow: lg.Address,
		Action: action,
		Status: action.Target(),
	}
	if action == escrow.ActionSubmit {
		e.WorkHash, _ = fields["workHash"].(string)
	}
	if ts, ok := fields["timestamp"].(*big.Int); ok && ts.Sign() > 0 {
		e.At = time.Unix(ts.Int64(), 0).UTC()
	}
	return e, nil
}

// lifecycleTopics lists the topic0 values of every lifecycle event.
func lifecycleTopics() []common.Hash {
	topics := make([]common.Hash, 0, len(actionEvents))
	for _, a := range escrow.Actions() {
		topics = append(topics, EscrowABI.Events[actionEvents[a]].ID)
	}
	return topics
}

// unpack decodes both the data section and the indexed topics of lg.
func unpack(ev abi.Event, lg *types.Log) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if len(ev.Inputs.NonIndexed()) > 0 {
		if err := ev.Inputs.UnpackIntoMap(fields, lg.Data); err != nil {
			return nil, err
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return nil, err
	}
	return fields, nil
}

func blockNumber(r *types.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}
