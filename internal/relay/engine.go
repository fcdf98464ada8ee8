package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gasrails/internal/balance"
	"gasrails/internal/chain"
	"gasrails/internal/history"
	"gasrails/internal/notify"
)

// Request is one relay operation as accepted from the gateway.
type Request struct {
	ID         string
	Capability string
	Args       map[string]string
}

// Subject returns the user address the capability acts on behalf of.
func (r Request) Subject() string {
	if owner := r.Args["owner"]; owner != "" {
		return owner
	}
	return r.Args["from"]
}

// Notifier receives terminal outcomes. Implementations must not block.
type Notifier interface {
	Dispatch(event notify.Event)
}

// Engine drives one relayed call end to end: funds preflight, construct,
// sign, submit, confirm, classify. The relayer account's nonce sequence is
// the single shared resource; the mutex covers nonce-read + gas-price sample
// + sign + submit only, never the confirmation wait.
type Engine struct {
	client   chain.Client
	monitor  *balance.Monitor
	account  *Account
	registry *Registry
	notifier Notifier
	store    history.Store
	log      *zap.Logger

	forwarder      common.Address
	chainID        *big.Int
	gasLimit       uint64
	confirmTimeout time.Duration

	nonceMu sync.Mutex
}

type EngineConfig struct {
	Forwarder      common.Address
	ChainID        *big.Int
	GasLimit       uint64
	ConfirmTimeout time.Duration
}

func NewEngine(client chain.Client, monitor *balance.Monitor, account *Account, registry *Registry,
	notifier Notifier, store history.Store, cfg EngineConfig, log *zap.Logger) *Engine {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 300_000
	}
	return &Engine{
		client:         client,
		monitor:        monitor,
		account:        account,
		registry:       registry,
		notifier:       notifier,
		store:          store,
		log:            log,
		forwarder:      cfg.Forwarder,
		chainID:        cfg.ChainID,
		gasLimit:       cfg.GasLimit,
		confirmTimeout: cfg.ConfirmTimeout,
	}
}

// Relay runs the request to a terminal outcome, records it, and hands it to
// the notifier. Recording and notification are side channels: neither can
// change or delay the outcome returned to the caller.
func (e *Engine) Relay(ctx context.Context, req Request) Outcome {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	out := e.run(ctx, req)

	e.record(req, out)
	if e.notifier != nil {
		e.notifier.Dispatch(eventFor(req, out))
	}
	return out
}

func (e *Engine) run(ctx context.Context, req Request) Outcome {
	calldata, err := e.registry.Build(req.Capability, req.Args)
	if err != nil {
		reason := ReasonInvalidRequest
		if errors.Is(err, ErrUnknownCapability) {
			reason = ReasonUnknownCapability
		}
		return rejected(reason, err.Error())
	}

	// Fresh preflight on every request; the periodic monitor never gates.
	// An unreadable balance counts as insufficient: we never submit on a
	// read we could not confirm.
	bal, err := e.monitor.Check(ctx)
	if err != nil {
		return rejected(ReasonInsufficientFunds, fmt.Sprintf("balance read failed: %v", err))
	}
	if !e.monitor.Sufficient(bal) {
		e.log.Warn("relay rejected, relayer underfunded",
			zap.String("requestId", req.ID),
			zap.String("balanceWei", bal.String()))
		return rejected(ReasonInsufficientFunds, "")
	}

	signed, out, ok := e.submit(ctx, req, calldata)
	if !ok {
		return out
	}
	txHash := signed.Hash()

	conf, err := e.client.WaitForConfirmation(ctx, txHash, e.confirmTimeout)
	if err != nil {
		if errors.Is(err, chain.ErrConfirmationTimeout) {
			// The transaction may still land; the caller must not be
			// told it succeeded, and must not assume it reverted.
			e.log.Warn("confirmation timed out",
				zap.String("requestId", req.ID),
				zap.String("txHash", txHash.Hex()))
			return failed(ReasonConfirmationTimeout, "", txHash.Hex())
		}
		return failed(ReasonRelayFailed, err.Error(), txHash.Hex())
	}
	if conf.Reverted {
		return failed(ReasonReverted, "", txHash.Hex())
	}

	e.log.Info("relay confirmed",
		zap.String("requestId", req.ID),
		zap.String("capability", req.Capability),
		zap.String("txHash", txHash.Hex()),
		zap.String("feeSpentWei", conf.FeeSpent.String()),
		zap.Uint64("block", conf.BlockNumber))

	return Outcome{
		Status:   StatusConfirmed,
		TxHash:   txHash.Hex(),
		FeeSpent: conf.FeeSpent,
	}
}

// submit performs the serialized nonce-read + sign + submit sequence. Two
// concurrent requests must never sign with the same nonce and never leave a
// gap; signing order equals submission order equals nonce order.
func (e *Engine) submit(ctx context.Context, req Request, calldata []byte) (*types.Transaction, Outcome, bool) {
	e.nonceMu.Lock()
	defer e.nonceMu.Unlock()

	nonce, err := e.client.PendingNonce(ctx, e.account.Address())
	if err != nil {
		return nil, failed(ReasonRelayFailed, err.Error(), ""), false
	}

	// Sampled immediately before submission; the gas ceiling bounds the
	// worst case if the price moves in between.
	gasPrice, err := e.client.GasPrice(ctx)
	if err != nil {
		return nil, failed(ReasonRelayFailed, err.Error(), ""), false
	}

	tx := types.NewTransaction(nonce, e.forwarder, big.NewInt(0), e.gasLimit, gasPrice, calldata)
	signed, err := e.account.SignTx(tx, e.chainID)
	if err != nil {
		return nil, failed(ReasonRelayFailed, err.Error(), ""), false
	}

	if err := e.client.Submit(ctx, signed); err != nil {
		reason := classifySubmission(err)
		e.log.Error("submission failed",
			zap.String("requestId", req.ID),
			zap.Uint64("nonce", nonce),
			zap.String("reason", reason),
			zap.Error(err))
		return nil, failed(reason, err.Error(), ""), false
	}

	e.log.Info("transaction submitted",
		zap.String("requestId", req.ID),
		zap.String("capability", req.Capability),
		zap.Uint64("nonce", nonce),
		zap.String("txHash", signed.Hash().Hex()))

	return signed, Outcome{}, true
}

func (e *Engine) record(req Request, out Outcome) {
	if e.store == nil {
		return
	}
	rec := history.Record{
		RequestID:  req.ID,
		Capability: req.Capability,
		Subject:    req.Subject(),
		Status:     string(out.Status),
		Reason:     out.Reason,
		TxHash:     out.TxHash,
		CreatedAt:  time.Now().UTC(),
	}
	if out.FeeSpent != nil {
		rec.FeeSpent = out.FeeSpent.String()
	}
	// Best effort; history must never become a reliability dependency.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.Append(ctx, rec); err != nil {
		e.log.Warn("history append failed", zap.String("requestId", req.ID), zap.Error(err))
	}
}

func eventFor(req Request, out Outcome) notify.Event {
	event := notify.Event{
		ID:         uuid.NewString(),
		RequestID:  req.ID,
		Capability: req.Capability,
		Subject:    req.Subject(),
		TxHash:     out.TxHash,
		Reason:     out.Reason,
		Timestamp:  time.Now().UTC(),
	}
	switch out.Status {
	case StatusConfirmed:
		event.Kind = notify.KindConfirmed
	case StatusRejected:
		event.Kind = notify.KindRejected
	default:
		event.Kind = notify.KindFailed
	}
	if out.FeeSpent != nil {
		event.FeeSpent = out.FeeSpent.String()
	}
	return event
}
