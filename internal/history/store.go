package history

import (
	"context"
	"sync"
	"time"
)

// Record is one relayed request as seen by operators.
type Record struct {
	RequestID  string    `json:"requestId"`
	Capability string    `json:"capability"`
	Subject    string    `json:"subject"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	TxHash     string    `json:"txHash,omitempty"`
	FeeSpent   string    `json:"feeSpentWei,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store is an append-only audit log of relay outcomes. Writes are best
// effort: a store failure never alters an outcome already computed.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// MemoryStore keeps records in memory; used in dev and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	recs []Record
	cap  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cap: 1000}
}

func (m *MemoryStore) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	if len(m.recs) > m.cap {
		m.recs = m.recs[len(m.recs)-m.cap:]
	}
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.recs) {
		limit = len(m.recs)
	}
	out := make([]Record, limit)
	// newest first
	for i := 0; i < limit; i++ {
		out[i] = m.recs[len(m.recs)-1-i]
	}
	return out, nil
}
