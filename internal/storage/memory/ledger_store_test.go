package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
	"github.com/vladislavdragonenkov/shawlshop/internal/storage/memory"
)

func TestLedgerStore_CommitAppliesAllWrites(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	catalog := memory.NewCatalogRepository(store)
	if err := catalog.Create(ctx, newProduct("P1", 5, time.Now().UTC())); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order := newOrder("order-1", "", time.Now().UTC())
	err := memory.NewLedgerStore(store).InTx(ctx, func(tx domain.LedgerTx) error {
		ok, err := tx.DecrementInventory(ctx, "P1", 3)
		if err != nil || !ok {
			t.Fatalf("decrement failed: ok=%v err=%v", ok, err)
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		_, err = tx.EnqueueOutbox(ctx, domain.OutboxMessage{AggregateType: domain.AggregateOrder, AggregateID: order.ID})
		return err
	})
	if err != nil {
		t.Fatalf("InTx failed: %v", err)
	}

	product, _ := catalog.Get(ctx, "P1")
	if product.Inventory != 2 {
		t.Fatalf("expected inventory 2, got %d", product.Inventory)
	}
	if _, err := memory.NewOrderRepository(store).Get(ctx, order.ID); err != nil {
		t.Fatalf("expected order to be stored: %v", err)
	}
	pending, _ := memory.NewOutboxRepository(store).PullPending(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("expected 1 outbox message, got %d", len(pending))
	}
}

func TestLedgerStore_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	catalog := memory.NewCatalogRepository(store)
	if err := catalog.Create(ctx, newProduct("P1", 5, time.Now().UTC())); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	boom := errors.New("boom")
	order := newOrder("order-1", "", time.Now().UTC())
	err := memory.NewLedgerStore(store).InTx(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.DecrementInventory(ctx, "P1", 5); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	product, _ := catalog.Get(ctx, "P1")
	if product.Inventory != 5 {
		t.Fatalf("expected inventory untouched, got %d", product.Inventory)
	}
	if _, err := memory.NewOrderRepository(store).Get(ctx, order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected no order after rollback, got %v", err)
	}
}

func TestLedgerStore_DecrementIsConditional(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	if err := memory.NewCatalogRepository(store).Create(ctx, newProduct("P1", 4, time.Now().UTC())); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := memory.NewLedgerStore(store).InTx(ctx, func(tx domain.LedgerTx) error {
		if ok, _ := tx.DecrementInventory(ctx, "P1", 3); !ok {
			t.Fatal("expected first decrement to succeed")
		}
		// Остаток внутри транзакции уже 1.
		if ok, _ := tx.DecrementInventory(ctx, "P1", 2); ok {
			t.Fatal("expected second decrement to be refused")
		}
		if ok, _ := tx.DecrementInventory(ctx, "missing", 1); ok {
			t.Fatal("expected decrement of unknown product to be refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx failed: %v", err)
	}

	product, _ := memory.NewCatalogRepository(store).Get(ctx, "P1")
	if product.Inventory != 1 {
		t.Fatalf("expected inventory 1, got %d", product.Inventory)
	}
}

func TestLedgerStore_UpdateOrderChecksVersion(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	order := newOrder("order-1", "c-1", time.Now().UTC())
	seedOrders(t, store, order)
	ledger := memory.NewLedgerStore(store)

	boom := errors.New("boom")
	order.Status = domain.OrderStatusProcessing
	err := ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	stored, _ := memory.NewOrderRepository(store).Get(ctx, order.ID)
	if stored.Status != domain.OrderStatusPending || stored.Version != 0 {
		t.Fatalf("rolled back update must not apply: %+v", stored)
	}

	err = ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	stored, _ = memory.NewOrderRepository(store).Get(ctx, order.ID)
	if stored.Status != domain.OrderStatusProcessing || stored.Version != 1 || len(stored.Items) != 1 {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	err = ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.UpdateOrder(ctx, order)
	})
	if !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("stale version must conflict, got %v", err)
	}
}
