package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client abstracts the blockchain node the relayer talks to.
type Client interface {
	// Balance returns the current balance of the account in wei.
	Balance(ctx context.Context, account common.Address) (*big.Int, error)

	// GasPrice returns the node's suggested gas price.
	GasPrice(ctx context.Context) (*big.Int, error)

	// PendingNonce returns the next nonce for the account, counting
	// pending transactions.
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)

	// NetworkIdentity reports which network the node serves.
	NetworkIdentity(ctx context.Context) (Identity, error)

	// Submit broadcasts a signed transaction.
	Submit(ctx context.Context, tx *types.Transaction) error

	// WaitForConfirmation blocks until the transaction is included or the
	// timeout expires. On timeout it returns ErrConfirmationTimeout; the
	// transaction may still land later.
	WaitForConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (Confirmation, error)
}

// HealthChecker is implemented by clients that can report node reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Identity describes the network a client is connected to.
type Identity struct {
	Name    string
	ChainID *big.Int
}

// Confirmation reports an included transaction.
type Confirmation struct {
	TxHash      common.Hash
	BlockNumber uint64
	Reverted    bool
	FeeSpent    *big.Int // gasUsed * effectiveGasPrice, in wei
}

var ErrConfirmationTimeout = errors.New("confirmation timeout")
