package relay

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gasrails/internal/balance"
	"gasrails/internal/chain"
	"gasrails/internal/history"
	"gasrails/internal/notify"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type capturingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *capturingNotifier) Dispatch(event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *capturingNotifier) Events() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Event, len(n.events))
	copy(out, n.events)
	return out
}

func newTestEngine(t *testing.T, client *chain.FakeClient, threshold *big.Int) (*Engine, *capturingNotifier) {
	t.Helper()

	account, err := NewAccount(testKeyHex)
	require.NoError(t, err)

	registry, err := NewRegistry(32)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	monitor := balance.NewMonitor(client, account.Address(), threshold, time.Minute, logger)
	notifier := &capturingNotifier{}

	engine := NewEngine(client, monitor, account, registry, notifier, history.NewMemoryStore(),
		EngineConfig{
			Forwarder:      common.HexToAddress("0x00000000000000000000000000000000000000f0"),
			ChainID:        client.Network.ChainID,
			GasLimit:       300_000,
			ConfirmTimeout: 5 * time.Second,
		}, logger)
	return engine, notifier
}

func transferRequest(id string) Request {
	return Request{
		ID:         id,
		Capability: CapabilityTransfer,
		Args: map[string]string{
			"from":   "0x1111111111111111111111111111111111111111",
			"to":     "0x2222222222222222222222222222222222222222",
			"amount": "1000",
			"memo":   "test",
		},
	}
}

func TestRelayRejectsWhenUnderfunded(t *testing.T) {
	client := chain.NewFakeClient()
	// threshold 0.02 ether, balance 0.01 ether
	client.BalanceWei = big.NewInt(10_000_000_000_000_000)
	engine, notifier := newTestEngine(t, client, big.NewInt(20_000_000_000_000_000))

	out := engine.Relay(context.Background(), transferRequest("req-1"))

	require.Equal(t, StatusRejected, out.Status)
	require.Equal(t, ReasonInsufficientFunds, out.Reason)
	require.Empty(t, client.Submitted(), "no call may reach the chain on rejection")

	events := notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, notify.KindRejected, events[0].Kind)
}

func TestRelayRejectsWhenBalanceUnreadable(t *testing.T) {
	client := chain.NewFakeClient()
	client.BalanceErr = errors.New("rpc unavailable")
	engine, _ := newTestEngine(t, client, big.NewInt(1))

	out := engine.Relay(context.Background(), transferRequest("req-1"))

	require.Equal(t, StatusRejected, out.Status)
	require.Equal(t, ReasonInsufficientFunds, out.Reason)
	require.Empty(t, client.Submitted())
}

func TestRelayConfirmedCarriesFeeAndNotifiesOnce(t *testing.T) {
	client := chain.NewFakeClient()
	client.BalanceWei = big.NewInt(1_000_000_000_000_000_000) // 1.0 ether
	client.ConfirmFee = big.NewInt(1_200_000_000_000_000)     // 0.0012 ether
	engine, notifier := newTestEngine(t, client, big.NewInt(20_000_000_000_000_000))

	out := engine.Relay(context.Background(), transferRequest("req-1"))

	require.Equal(t, StatusConfirmed, out.Status)
	require.NotEmpty(t, out.TxHash)
	require.Equal(t, "1200000000000000", out.FeeSpent.String())
	require.Len(t, client.Submitted(), 1)

	events := notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, notify.KindConfirmed, events[0].Kind)
	require.Equal(t, out.TxHash, events[0].TxHash)
	require.Equal(t, "1200000000000000", events[0].FeeSpent)
}

func TestRelayConcurrentNoncesAreContiguous(t *testing.T) {
	client := chain.NewFakeClient()
	engine, _ := newTestEngine(t, client, big.NewInt(1))

	const n = 16
	outcomes := make(chan Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- engine.Relay(context.Background(), transferRequest(""))
		}()
	}
	wg.Wait()
	close(outcomes)
	for out := range outcomes {
		require.Equal(t, StatusConfirmed, out.Status)
	}

	txs := client.Submitted()
	require.Len(t, txs, n)

	nonces := make([]uint64, 0, n)
	for _, tx := range txs {
		nonces = append(nonces, tx.Nonce())
	}
	// submission-acceptance order must equal nonce order
	require.True(t, sort.SliceIsSorted(nonces, func(i, j int) bool { return nonces[i] < nonces[j] }))
	seen := make(map[uint64]bool, n)
	for _, nonce := range nonces {
		require.False(t, seen[nonce], "nonce %d used twice", nonce)
		seen[nonce] = true
	}
	for i := uint64(0); i < n; i++ {
		require.True(t, seen[i], "nonce sequence has a gap at %d", i)
	}
}

func TestRelayConfirmationTimeoutIsNotConfirmed(t *testing.T) {
	client := chain.NewFakeClient()
	client.ConfirmDelay = time.Minute
	engine, notifier := newTestEngine(t, client, big.NewInt(1))
	engine.confirmTimeout = 20 * time.Millisecond

	out := engine.Relay(context.Background(), transferRequest("req-1"))

	require.Equal(t, StatusFailed, out.Status)
	require.Equal(t, ReasonConfirmationTimeout, out.Reason)
	require.NotEmpty(t, out.TxHash, "caller must learn the hash of the in-flight transaction")
	require.Len(t, client.Submitted(), 1, "timeout must not trigger a resubmission")

	events := notifier.Events()
	require.Len(t, events, 1)
	require.Equal(t, notify.KindFailed, events[0].Kind)
}

func TestRelayClassifiesDuplicateAction(t *testing.T) {
	client := chain.NewFakeClient()
	client.SubmitErr = errors.New("execution reverted: AccountExists")
	engine, _ := newTestEngine(t, client, big.NewInt(1))

	out := engine.Relay(context.Background(), Request{
		ID:         "req-1",
		Capability: CapabilityCreateAccount,
		Args: map[string]string{
			"owner":      "0x1111111111111111111111111111111111111111",
			"funding":    "0",
			"profileRef": "profile-1",
		},
	})

	require.Equal(t, StatusFailed, out.Status)
	require.Equal(t, ReasonDuplicate, out.Reason)
}

func TestRelayClassifiesUnderfundedAtSubmit(t *testing.T) {
	client := chain.NewFakeClient()
	client.SubmitErr = errors.New("insufficient funds for gas * price + value")
	engine, _ := newTestEngine(t, client, big.NewInt(1))

	out := engine.Relay(context.Background(), transferRequest("req-1"))

	require.Equal(t, StatusFailed, out.Status)
	require.Equal(t, ReasonUnderfunded, out.Reason)
}

func TestRelayGenericSubmissionErrorKeepsDetailForOperators(t *testing.T) {
	client := chain.NewFakeClient()
	client.SubmitErr = errors.New("some novel node error")
	engine, _ := newTestEngine(t, client, big.NewInt(1))

	out := engine.Relay(context.Background(), transferRequest("req-1"))

	require.Equal(t, StatusFailed, out.Status)
	require.Equal(t, ReasonRelayFailed, out.Reason)
	require.Contains(t, out.Detail, "novel node error")
}

func TestRelayRejectsUnknownCapability(t *testing.T) {
	client := chain.NewFakeClient()
	engine, _ := newTestEngine(t, client, big.NewInt(1))

	out := engine.Relay(context.Background(), Request{
		ID:         "req-1",
		Capability: "burn_everything",
		Args:       map[string]string{},
	})

	require.Equal(t, StatusRejected, out.Status)
	require.Equal(t, ReasonUnknownCapability, out.Reason)
	require.Empty(t, client.Submitted())
}

func TestRelayRejectsInvalidArguments(t *testing.T) {
	client := chain.NewFakeClient()
	engine, _ := newTestEngine(t, client, big.NewInt(1))

	out := engine.Relay(context.Background(), Request{
		ID:         "req-1",
		Capability: CapabilityTransfer,
		Args: map[string]string{
			"from":   "not-an-address",
			"to":     "0x2222222222222222222222222222222222222222",
			"amount": "1000",
		},
	})

	require.Equal(t, StatusRejected, out.Status)
	require.Equal(t, ReasonInvalidRequest, out.Reason)
	require.Empty(t, client.Submitted())
}
