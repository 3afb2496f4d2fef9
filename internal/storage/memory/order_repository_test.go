package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
	"github.com/vladislavdragonenkov/shawlshop/internal/storage/memory"
)

func newOrder(id, customerID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:              id,
		CustomerID:      customerID,
		CustomerName:    "Asha Rao",
		CustomerEmail:   "asha@example.com",
		ShippingAddress: "12 Lake Road, Srinagar",
		Status:          domain.OrderStatusPending,
		Total:           decimal.RequireFromString("500.00"),
		Items: []domain.OrderItem{
			{ID: id + "-item", OrderID: id, ProductID: "P1", Quantity: 5, Price: decimal.RequireFromString("100.00")},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// seedOrders записывает заказы через транзакцию оформления.
func seedOrders(t *testing.T, store *memory.Store, orders ...domain.Order) {
	t.Helper()
	err := memory.NewLedgerStore(store).InTx(context.Background(), func(tx domain.LedgerTx) error {
		for _, order := range orders {
			if err := tx.InsertOrder(context.Background(), order); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed orders failed: %v", err)
	}
}

func TestOrderRepository_Get(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewOrderRepository(store)
	order := newOrder("order-1", "customer-1", time.Now().UTC())
	seedOrders(t, store, order)

	stored, err := repo.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || len(stored.Items) != 1 {
		t.Fatalf("unexpected order: %+v", stored)
	}

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListFilters(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewOrderRepository(store)
	base := time.Now().UTC()

	older := newOrder("order-1", "customer-1", base)
	newer := newOrder("order-2", "customer-1", base.Add(time.Minute))
	other := newOrder("order-3", "customer-2", base.Add(2*time.Minute))
	other.Status = domain.OrderStatusProcessing
	seedOrders(t, store, older, newer, other)

	orders, err := repo.List(context.Background(), domain.OrderFilter{CustomerID: "customer-1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "order-2" {
		t.Fatalf("expected newest first for customer-1, got %+v", orders)
	}

	orders, err = repo.List(context.Background(), domain.OrderFilter{Status: domain.OrderStatusProcessing})
	if err != nil {
		t.Fatalf("list by status failed: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "order-3" {
		t.Fatalf("expected only processing order, got %+v", orders)
	}

	orders, err = repo.List(context.Background(), domain.OrderFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list with limit failed: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "order-3" {
		t.Fatalf("expected single newest order, got %+v", orders)
	}
}

func TestOrderRepository_SaveOptimisticLock(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewOrderRepository(store)
	order := newOrder("order-1", "customer-1", time.Now().UTC())
	seedOrders(t, store, order)

	order.Status = domain.OrderStatusProcessing
	if err := repo.Save(context.Background(), order); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Повторное сохранение со старой версией должно упасть.
	order.Status = domain.OrderStatusCancelled
	if err := repo.Save(context.Background(), order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	stored, err := repo.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusProcessing || stored.Version != 1 {
		t.Fatalf("unexpected stored order: status=%s version=%d", stored.Status, stored.Version)
	}

	if err := repo.Save(context.Background(), newOrder("missing", "", time.Now())); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
