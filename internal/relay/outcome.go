package relay

import (
	"errors"
	"math/big"
	"strings"
)

// Status is the terminal state of a relay request.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// Stable reason codes surfaced to callers. Raw provider errors stay in the
// operator logs and the Detail field; they are never the caller-facing reason.
const (
	ReasonInsufficientFunds   = "insufficient relayer funds"
	ReasonInvalidRequest      = "invalid request"
	ReasonUnknownCapability   = "unknown capability"
	ReasonUnderfunded         = "relayer underfunded"
	ReasonDuplicate           = "duplicate action"
	ReasonConfirmationTimeout = "confirmation timeout"
	ReasonReverted            = "transaction reverted"
	ReasonRelayFailed         = "relay failed"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrUnknownCapability = errors.New("unknown capability")
)

// Outcome is the result of one relay request.
type Outcome struct {
	Status   Status
	Reason   string
	Detail   string // operator-facing raw error, not returned to callers
	TxHash   string
	FeeSpent *big.Int
}

func rejected(reason, detail string) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason, Detail: detail}
}

func failed(reason, detail, txHash string) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason, Detail: detail, TxHash: txHash}
}

// classifySubmission maps a submission error onto a caller-meaningful reason.
// Anything unrecognized lands in the generic bucket with the raw detail
// preserved for operators.
func classifySubmission(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return ReasonUnderfunded
	case strings.Contains(msg, "accountexists"),
		strings.Contains(msg, "alreadyprocessed"),
		strings.Contains(msg, "already performed"),
		strings.Contains(msg, "duplicate"):
		return ReasonDuplicate
	default:
		return ReasonRelayFailed
	}
}
