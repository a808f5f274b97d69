package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"escrow-backend/core/escrow"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Config selects the chain and the factory contract.
type Config struct {
	RPCURL         string
	Factory        common.Address
	ChainID        *big.Int
	ConfirmTimeout time.Duration
}

// JobInfo is the factory's record of a job.
type JobInfo struct {
	ID           uint64
	Escrow       common.Address
	Client       common.Address
	Freelancer   common.Address
	Amount       *big.Int
	MetadataHash string
	Active       bool
	CreatedAt    time.Time
}

// EscrowDetails is the escrow instance's own view of its job.
type EscrowDetails struct {
	Client        common.Address
	Freelancer    common.Address
	Amount        *big.Int
	Status        escrow.Status
	MetadataHash  string
	WorkHash      string
	CreatedAt     time.Time
	CompletedAt   time.Time
	FundsReleased bool
}

// Job combines the factory record with the escrow's lifecycle state.
func (info JobInfo) Job(details EscrowDetails) escrow.Job {
	at := time.Time{}
	if details.Status.Terminal() {
		at = details.CompletedAt
	}
	state, ok := escrow.NewState(details.Status, details.WorkHash, at)
	if !ok {
		state = escrow.Funded{}
	}
	return escrow.Job{
		ID:           info.ID,
		Client:       info.Client,
		Freelancer:   info.Freelancer,
		Escrow:       info.Escrow,
		Amount:       info.Amount,
		MetadataHash: info.MetadataHash,
		CreatedAt:    info.CreatedAt,
		State:        state,
	}
}

type jobInfoTuple struct {
	JobContract common.Address
	Client      common.Address
	Freelancer  common.Address
	Amount      *big.Int
	IpfsHash    string
	IsActive    bool
	CreatedAt   *big.Int
}

type jobDetailsTuple struct {
	Client             common.Address
	Freelancer         common.Address
	Amount             *big.Int
	Status             uint8
	IpfsHash           string
	WorkSubmissionHash string
	CreatedAt          *big.Int
	CompletedAt        *big.Int
	FundsReleased      bool
}

// Client is the go-ethereum backed ledger binding.
type Client struct {
	eth            *ethclient.Client
	chainID        *big.Int
	factoryAddr    common.Address
	factory        *bind.BoundContract
	nonces         *nonces
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// Dial connects to the JSON-RPC endpoint. When cfg.ChainID is nil the node is
// asked for it.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Factory == (common.Address{}) {
		return nil, fmt.Errorf("ledger: factory address is required")
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, classify("dial", err)
	}
	chainID := cfg.ChainID
	if chainID == nil {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, classify("chain_id", err)
		}
	}
	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	logger.Info("ledger connected", "rpc", cfg.RPCURL, "chain_id", chainID.String(), "factory", cfg.Factory.Hex())
	return &Client{
		eth:            eth,
		chainID:        chainID,
		factoryAddr:    cfg.Factory,
		factory:        bind.NewBoundContract(cfg.Factory, FactoryABI, eth, eth, eth),
		nonces:         newNonces(eth),
		confirmTimeout: timeout,
		logger:         logger,
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) Factory() common.Address {
	return c.factoryAddr
}

func (c *Client) escrowContract(addr common.Address) *bind.BoundContract {
	return bind.NewBoundContract(addr, EscrowABI, c.eth, c.eth, c.eth)
}

// CreationFee is the fee the factory charges on top of the job amount.
func (c *Client) CreationFee(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := c.factory.Call(&bind.CallOpts{Context: ctx}, &out, "getContractCreationFee"); err != nil {
		return nil, classify("creation_fee", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// JobInfo reads the factory record for id. Unknown ids are NotFound.
func (c *Client) JobInfo(ctx context.Context, id uint64) (JobInfo, error) {
	var out []interface{}
	err := c.factory.Call(&bind.CallOpts{Context: ctx}, &out, "getJobInfo", new(big.Int).SetUint64(id))
	if err != nil {
		err = classify("job_info", err)
		if errors.Is(err, escrow.ErrReverted) {
			return JobInfo{}, escrow.NewError(escrow.ErrNotFound, "job_info", fmt.Sprintf("job %d", id), err)
		}
		return JobInfo{}, err
	}
	t := *abi.ConvertType(out[0], new(jobInfoTuple)).(*jobInfoTuple)
	if t.JobContract == (common.Address{}) {
		return JobInfo{}, escrow.NewError(escrow.ErrNotFound, "job_info", fmt.Sprintf("job %d", id), nil)
	}
	return JobInfo{
		ID:           id,
		Escrow:       t.JobContract,
		Client:       t.Client,
		Freelancer:   t.Freelancer,
		Amount:       t.Amount,
		MetadataHash: t.IpfsHash,
		Active:       t.IsActive,
		CreatedAt:    unixTime(t.CreatedAt),
	}, nil
}

// JobsForAddress lists the job ids where addr holds role. No matches is an
// empty slice, not an error.
func (c *Client) JobsForAddress(ctx context.Context, addr common.Address, role escrow.Role) ([]uint64, error) {
	method := "getClientJobs"
	if role == escrow.RoleFreelancer {
		method = "getFreelancerJobs"
	}
	return c.idList(ctx, method, addr)
}

// ActiveJobs lists every job the factory still considers active.
func (c *Client) ActiveJobs(ctx context.Context) ([]uint64, error) {
	return c.idList(ctx, "getAllActiveJobs")
}

func (c *Client) idList(ctx context.Context, method string, params ...interface{}) ([]uint64, error) {
	var out []interface{}
	if err := c.factory.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, classify(method, err)
	}
	raw := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		if v.IsUint64() {
			ids = append(ids, v.Uint64())
		}
	}
	return ids, nil
}

// EscrowDetails reads the lifecycle state held by one escrow instance.
func (c *Client) EscrowDetails(ctx context.Context, addr common.Address) (EscrowDetails, error) {
	var out []interface{}
	if err := c.escrowContract(addr).Call(&bind.CallOpts{Context: ctx}, &out, "getJobDetails"); err != nil {
		return EscrowDetails{}, classify("escrow_details", err)
	}
	t := *abi.ConvertType(out[0], new(jobDetailsTuple)).(*jobDetailsTuple)
	status, err := escrow.StatusFromChain(t.Status)
	if err != nil {
		return EscrowDetails{}, escrow.NewError(escrow.ErrConsistencyViolation, "escrow_details", addr.Hex(), err)
	}
	return EscrowDetails{
		Client:        t.Client,
		Freelancer:    t.Freelancer,
		Amount:        t.Amount,
		Status:        status,
		MetadataHash:  t.IpfsHash,
		WorkHash:      t.WorkSubmissionHash,
		CreatedAt:     unixTime(t.CreatedAt),
		CompletedAt:   unixTime(t.CompletedAt),
		FundsReleased: t.FundsReleased,
	}, nil
}

func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, classify("balance", err)
	}
	return bal, nil
}

// CreateEscrow submits createJobEscrow with value attached. It returns once the
// transaction is accepted by the node, not when it is mined.
func (c *Client) CreateEscrow(ctx context.Context, signer escrow.Signer, freelancer common.Address, metadataHash string, value *big.Int) (*types.Transaction, error) {
	return c.transact(ctx, "create", c.factoryAddr, FactoryABI, signer, value, "createJobEscrow", freelancer, metadataHash)
}

// Transition submits the escrow write for action.
func (c *Client) Transition(ctx context.Context, signer escrow.Signer, escrowAddr common.Address, action escrow.Action, workHash string) (*types.Transaction, error) {
	method, ok := actionMethods[action]
	if !ok {
		return nil, escrow.NewError(escrow.ErrInvalidTransition, string(action), "unknown action", nil)
	}
	var params []interface{}
	if action == escrow.ActionSubmit {
		params = append(params, workHash)
	}
	return c.transact(ctx, string(action), escrowAddr, EscrowABI, signer, nil, method, params...)
}

func (c *Client) transact(ctx context.Context, op string, to common.Address, contractABI abi.ABI, signer escrow.Signer, value *big.Int, method string, params ...interface{}) (*types.Transaction, error) {
	if signer.Sign == nil {
		return nil, escrow.NewError(escrow.ErrNoSigner, op, "", nil)
	}
	data, err := contractABI.Pack(method, params...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	// Estimated up front so revert data reaches classify intact.
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: signer.Address, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, classify(op, err)
	}
	nonce, done, err := c.nonces.reserve(ctx, signer.Address)
	if err != nil {
		return nil, classify(op, err)
	}
	sent := false
	defer func() { done(sent) }()
	opts := &bind.TransactOpts{
		From:     signer.Address,
		Nonce:    new(big.Int).SetUint64(nonce),
		Context:  ctx,
		Value:    value,
		GasLimit: gas + gas/5,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != signer.Address {
				return nil, bind.ErrNotAuthorized
			}
			return signer.Sign(tx, c.chainID)
		},
	}
	tx, err := bind.NewBoundContract(to, contractABI, c.eth, c.eth, c.eth).RawTransact(opts, data)
	if err != nil {
		return nil, classify(op, err)
	}
	sent = true
	c.logger.Info("transaction submitted", "op", op, "tx", tx.Hash().Hex(), "signer", signer.Address.Hex(), "to", to.Hex(), "nonce", nonce)
	return tx, nil
}

// WaitConfirmed waits for one confirmation. Running out of time is a
// NetworkError: the transaction may still be mined later.
func (c *Client) WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, escrow.NewError(escrow.ErrNetwork, "confirm", "confirmation timeout for "+tx.Hash().Hex(), err)
		}
		return nil, classify("confirm", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, escrow.NewError(escrow.ErrReverted, "confirm", c.replayReason(ctx, tx, receipt), nil)
	}
	return receipt, nil
}

// replayReason re-executes a failed transaction at its block to recover the
// revert reason. Nodes without archive state may not answer.
func (c *Client) replayReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) string {
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return ""
	}
	msg := ethereum.CallMsg{From: from, To: tx.To(), Value: tx.Value(), Data: tx.Data(), Gas: tx.Gas()}
	_, err = c.eth.CallContract(ctx, msg, receipt.BlockNumber)
	if err == nil {
		return ""
	}
	reason, _ := RevertReason(err)
	return reason
}

// Created decodes JobCreated from receipt and stamps it with the block time.
func (c *Client) Created(ctx context.Context, receipt *types.Receipt) (Created, error) {
	created, err := DecodeCreated(receipt, c.factoryAddr)
	if err != nil {
		return Created{}, err
	}
	created.At = c.blockTime(ctx, receipt.BlockNumber)
	return created, nil
}

// TransitionEvent decodes the event action must have emitted.
func (c *Client) TransitionEvent(ctx context.Context, receipt *types.Receipt, escrowAddr common.Address, action escrow.Action) (Event, error) {
	ev, err := DecodeTransition(receipt, escrowAddr, action)
	if err != nil {
		return Event{}, err
	}
	if ev.At.IsZero() {
		ev.At = c.blockTime(ctx, receipt.BlockNumber)
	}
	return ev, nil
}

// LatestBlock returns the current head number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, classify("block_number", err)
	}
	return n, nil
}

// EscrowEvents returns lifecycle events emitted by escrows in [from, to].
func (c *Client) EscrowEvents(ctx context.Context, from, to uint64, escrows []common.Address) ([]Event, error) {
	if len(escrows) == 0 || from > to {
		return nil, nil
	}
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: escrows,
		Topics:    [][]common.Hash{lifecycleTopics()},
	})
	if err != nil {
		return nil, classify("filter_logs", err)
	}
	events := make([]Event, 0, len(logs))
	for i := range logs {
		ev, ok, err := DecodeLog(&logs[i])
		if err != nil {
			c.logger.Warn("skipping undecodable log", "tx", logs[i].TxHash.Hex(), "err", err)
			continue
		}
		if !ok || logs[i].Removed {
			continue
		}
		if ev.At.IsZero() {
			ev.At = c.blockTime(ctx, new(big.Int).SetUint64(ev.BlockNumber))
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *Client) blockTime(ctx context.Context, number *big.Int) time.Time {
	h, err := c.eth.HeaderByNumber(ctx, number)
	if err != nil {
		c.logger.Warn("block header unavailable", "block", number, "err", err)
		return time.Time{}
	}
	return time.Unix(int64(h.Time), 0).UTC()
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
