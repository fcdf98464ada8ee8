package relay

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"gasrails/internal/contracts"
)

// Capability names shipped with the forwarder contract.
const (
	CapabilityCreateAccount = "create_account"
	CapabilityTransfer      = "transfer"
)

// Builder validates capability arguments and packs them into calldata for
// the forwarder contract.
type Builder func(args map[string]string) ([]byte, error)

// Registry maps capability names to calldata builders. Additional business
// operations can be plugged in without touching the engine.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry builds a registry with the stock forwarder capabilities
// registered.
func NewRegistry(maxMemoLen int) (*Registry, error) {
	parsedABI, err := abi.JSON(strings.NewReader(contracts.ForwarderABI))
	if err != nil {
		return nil, fmt.Errorf("parse forwarder abi: %w", err)
	}
	if maxMemoLen <= 0 || maxMemoLen > 32 {
		maxMemoLen = 32
	}

	r := &Registry{builders: make(map[string]Builder)}

	r.Register(CapabilityCreateAccount, func(args map[string]string) ([]byte, error) {
		owner, err := addressArg(args, "owner")
		if err != nil {
			return nil, err
		}
		funding, err := amountArg(args, "funding")
		if err != nil {
			return nil, err
		}
		profileRef, err := textArg(args, "profileRef", maxMemoLen)
		if err != nil {
			return nil, err
		}
		return parsedABI.Pack("createAccount", owner, funding, toBytes32(profileRef))
	})

	r.Register(CapabilityTransfer, func(args map[string]string) ([]byte, error) {
		from, err := addressArg(args, "from")
		if err != nil {
			return nil, err
		}
		to, err := addressArg(args, "to")
		if err != nil {
			return nil, err
		}
		amount, err := amountArg(args, "amount")
		if err != nil {
			return nil, err
		}
		memo, err := textArg(args, "memo", maxMemoLen)
		if err != nil {
			return nil, err
		}
		return parsedABI.Pack("transfer", from, to, amount, toBytes32(memo))
	})

	return r, nil
}

func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// Build packs calldata for the named capability. Unknown capabilities and
// argument validation failures are admission errors; no chain interaction
// has happened yet.
func (r *Registry) Build(name string, args map[string]string) ([]byte, error) {
	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	calldata, err := builder(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return calldata, nil
}

func addressArg(args map[string]string, key string) (common.Address, error) {
	raw := strings.TrimSpace(args[key])
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s is required", key)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s address", key)
	}
	return common.HexToAddress(raw), nil
}

func amountArg(args map[string]string, key string) (*big.Int, error) {
	raw := strings.TrimSpace(args[key])
	if raw == "" {
		return nil, fmt.Errorf("%s is required", key)
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %s", key, raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", key)
	}
	return amount, nil
}

func textArg(args map[string]string, key string, maxLen int) (string, error) {
	raw := args[key]
	if len(raw) > maxLen {
		return "", fmt.Errorf("%s exceeds %d bytes", key, maxLen)
	}
	return raw, nil
}

func toBytes32(value string) [32]byte {
	var out [32]byte
	copy(out[:], []byte(value))
	return out
}
