package history

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	rec := Record{
		RequestID:  "test-req",
		Capability: "transfer",
		Subject:    "0x1111111111111111111111111111111111111111",
		Status:     "confirmed",
		TxHash:     "0xabc",
		FeeSpent:   "100",
		CreatedAt:  time.Now().UTC(),
	}

	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 1 || recs[0].RequestID != rec.RequestID {
		t.Fatalf("unexpected records: %#v", recs)
	}
}
