package recordstore

import (
	"context"
	"testing"
)

type settlementRecord struct {
	SettlementID string  `json:"settlement_id"`
	AmountOut    float64 `json:"amount_out"`
}

func TestMemStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	rec := settlementRecord{SettlementID: "s-1", AmountOut: 42.5}
	if err := store.Put(ctx, "s-1", rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got settlementRecord
	ok, err := store.Get(ctx, "s-1", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected record to exist")
	}
	if got != rec {
		t.Errorf("Get() = %+v, want %+v", got, rec)
	}

	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ok, err = store.Get(ctx, "s-1", &got)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Error("expected record to be gone after delete")
	}
}

func TestMemStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if err := store.Delete(ctx, "never-written"); err != nil {
		t.Fatalf("Delete on missing key should be a no-op, got: %v", err)
	}
	if err := store.Delete(ctx, "never-written"); err != nil {
		t.Fatalf("second Delete should also be a no-op, got: %v", err)
	}
}

func TestMemStoreGetMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	var got settlementRecord
	ok, err := store.Get(ctx, "missing", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing record")
	}
}
