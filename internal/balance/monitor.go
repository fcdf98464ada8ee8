package balance

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"gasrails/internal/chain"
)

// Monitor reads the relayer account balance and classifies it against a
// configured floor. It keeps no cached state: the periodic loop and the
// per-request preflight both hit the node, so neither acts on a stale read.
type Monitor struct {
	client    chain.Client
	account   common.Address
	threshold *big.Int
	interval  time.Duration
	log       *zap.Logger

	// OnSample, when set, observes every read. Used to feed the balance
	// gauge; must not block.
	OnSample func(wei *big.Int, sufficient bool)
}

// Status is the operator-facing snapshot returned by the gateway.
type Status struct {
	Account    string   `json:"account"`
	BalanceWei string   `json:"balanceWei"`
	Threshold  string   `json:"thresholdWei"`
	Sufficient bool     `json:"sufficient"`
	Balance    *big.Int `json:"-"`
}

func NewMonitor(client chain.Client, account common.Address, threshold *big.Int, interval time.Duration, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		client:    client,
		account:   account,
		threshold: new(big.Int).Set(threshold),
		interval:  interval,
		log:       log,
	}
}

// Check reads the current balance. A failed read returns zero plus the
// error; callers gating on funds must treat that as insufficient.
func (m *Monitor) Check(ctx context.Context) (*big.Int, error) {
	bal, err := m.client.Balance(ctx, m.account)
	if err != nil {
		m.log.Warn("balance read failed", zap.Error(err))
		return big.NewInt(0), err
	}
	if m.OnSample != nil {
		m.OnSample(bal, m.Sufficient(bal))
	}
	return bal, nil
}

// Sufficient reports whether the balance clears the configured floor.
func (m *Monitor) Sufficient(balance *big.Int) bool {
	return balance.Cmp(m.threshold) >= 0
}

func (m *Monitor) Threshold() *big.Int {
	return new(big.Int).Set(m.threshold)
}

func (m *Monitor) Account() common.Address {
	return m.account
}

// Status assembles the health snapshot for the gateway.
func (m *Monitor) Status(ctx context.Context) Status {
	bal, err := m.Check(ctx)
	sufficient := err == nil && m.Sufficient(bal)
	return Status{
		Account:    m.account.Hex(),
		BalanceWei: bal.String(),
		Threshold:  m.threshold.String(),
		Sufficient: sufficient,
		Balance:    bal,
	}
}

// Run polls the balance on a fixed interval and raises an operational alert
// in the logs when the relayer is underfunded. Observability only: it never
// gates a relay request, each request does its own fresh check.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bal, err := m.Check(ctx)
			if err != nil {
				continue
			}
			if !m.Sufficient(bal) {
				m.log.Warn("relayer balance below threshold",
					zap.String("account", m.account.Hex()),
					zap.String("balanceWei", bal.String()),
					zap.String("thresholdWei", m.threshold.String()))
			}
		}
	}
}
