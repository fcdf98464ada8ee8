package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FakeClient is an in-memory chain for tests. It hands out nonces based on
// what has been submitted, records every submission, and confirms
// transactions with a scriptable fee.
type FakeClient struct {
	mu sync.Mutex

	BalanceWei  *big.Int
	GasPriceWei *big.Int
	Network     Identity

	BalanceErr error
	SubmitErr  error
	ConfirmFee *big.Int
	// ConfirmDelay is applied before each confirmation; set it beyond the
	// engine's wait timeout to simulate a stuck transaction.
	ConfirmDelay time.Duration
	Revert       bool

	startNonce uint64
	submitted  []*types.Transaction
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		BalanceWei:  big.NewInt(1_000_000_000_000_000_000), // 1 ether
		GasPriceWei: big.NewInt(1_000_000_000),             // 1 gwei
		ConfirmFee:  big.NewInt(21_000_000_000_000),
		Network:     Identity{Name: "fakenet", ChainID: big.NewInt(1337)},
	}
}

func (f *FakeClient) Balance(_ context.Context, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	return new(big.Int).Set(f.BalanceWei), nil
}

func (f *FakeClient) GasPrice(_ context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.GasPriceWei), nil
}

func (f *FakeClient) PendingNonce(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startNonce + uint64(len(f.submitted)), nil
}

func (f *FakeClient) NetworkIdentity(_ context.Context) (Identity, error) {
	return f.Network, nil
}

func (f *FakeClient) Submit(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return f.SubmitErr
	}
	f.submitted = append(f.submitted, tx)
	return nil
}

func (f *FakeClient) WaitForConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (Confirmation, error) {
	f.mu.Lock()
	delay := f.ConfirmDelay
	fee := new(big.Int).Set(f.ConfirmFee)
	reverted := f.Revert
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		expiry := time.NewTimer(timeout)
		defer expiry.Stop()
		select {
		case <-timer.C:
		case <-expiry.C:
			return Confirmation{}, ErrConfirmationTimeout
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		}
	}

	return Confirmation{
		TxHash:      txHash,
		BlockNumber: 1,
		Reverted:    reverted,
		FeeSpent:    fee,
	}, nil
}

func (f *FakeClient) Ping(_ context.Context) error {
	return nil
}

// Submitted returns a snapshot of everything sent to the fake chain.
func (f *FakeClient) Submitted() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Transaction, len(f.submitted))
	copy(out, f.submitted)
	return out
}
