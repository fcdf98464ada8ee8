package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// EthClient implements Client over a JSON-RPC connection.
type EthClient struct {
	client       *ethclient.Client
	networkName  string
	chainID      *big.Int
	rpcTimeout   time.Duration
	pollInterval time.Duration
	log          *zap.Logger
}

type EthClientConfig struct {
	RPCURL              string
	NetworkName         string
	RPCTimeout          time.Duration
	ReceiptPollInterval time.Duration
}

// DialEthClient connects to the node and resolves its chain id. The dial is
// retried a few times so the service survives a node that is still coming up.
func DialEthClient(ctx context.Context, cfg EthClientConfig, log *zap.Logger) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	var cli *ethclient.Client
	err := retry.Do(func() error {
		var dialErr error
		cli, dialErr = ethclient.DialContext(ctx, cfg.RPCURL)
		return dialErr
	}, retry.Context(ctx), retry.Attempts(5), retry.Delay(2*time.Second), retry.DelayType(retry.FixedDelay))
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	pollInterval := cfg.ReceiptPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	rpcTimeout := cfg.RPCTimeout
	if rpcTimeout <= 0 {
		rpcTimeout = 10 * time.Second
	}

	log.Info("connected to chain rpc",
		zap.String("url", cfg.RPCURL),
		zap.String("chainId", chainID.String()))

	return &EthClient{
		client:       cli,
		networkName:  cfg.NetworkName,
		chainID:      chainID,
		rpcTimeout:   rpcTimeout,
		pollInterval: pollInterval,
		log:          log,
	}, nil
}

func (c *EthClient) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	balance, err := c.client.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("balance read: %w", err)
	}
	return balance, nil
}

func (c *EthClient) GasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	return price, nil
}

func (c *EthClient) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	nonce, err := c.client.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("pending nonce: %w", err)
	}
	return nonce, nil
}

func (c *EthClient) NetworkIdentity(_ context.Context) (Identity, error) {
	return Identity{Name: c.networkName, ChainID: new(big.Int).Set(c.chainID)}, nil
}

func (c *EthClient) Submit(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()
	return c.client.SendTransaction(ctx, tx)
}

// WaitForConfirmation polls for the receipt until the transaction is mined,
// the timeout expires, or the context is cancelled.
func (c *EthClient) WaitForConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (Confirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var receipt *types.Receipt
	err := retry.Do(func() error {
		var rcptErr error
		receipt, rcptErr = c.client.TransactionReceipt(waitCtx, txHash)
		if errors.Is(rcptErr, ethereum.NotFound) {
			return fmt.Errorf("receipt not available yet: %w", rcptErr)
		}
		return rcptErr
	},
		retry.Context(waitCtx),
		retry.Attempts(0), // bounded by waitCtx, not a fixed count
		retry.Delay(c.pollInterval),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return Confirmation{}, ErrConfirmationTimeout
		}
		return Confirmation{}, err
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), receipt.EffectiveGasPrice)
	return Confirmation{
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Reverted:    receipt.Status == types.ReceiptStatusFailed,
		FeeSpent:    fee,
	}, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EthClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
