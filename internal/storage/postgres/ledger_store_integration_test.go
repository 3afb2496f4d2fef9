package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
)

func TestLedgerStore_PostgresCommit(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	catalog := NewCatalogRepository(store)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	require.NoError(t, catalog.Create(ctx, sampleProduct("SHAWL-1", 5, now)))

	order := sampleOrder("ledger-order-1", "", now)
	err := NewLedgerStore(store).InTx(ctx, func(tx domain.LedgerTx) error {
		ok, err := tx.DecrementInventory(ctx, "SHAWL-1", 2)
		require.NoError(t, err)
		require.True(t, ok)

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		_, err = tx.EnqueueOutbox(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   order.ID,
			EventType:     domain.EventOrderPlaced,
			Payload:       []byte(`{"order_id":"ledger-order-1"}`),
		})
		return err
	})
	require.NoError(t, err)

	product, err := catalog.Get(ctx, "SHAWL-1")
	require.NoError(t, err)
	require.Equal(t, 3, product.Inventory)

	stored, err := NewOrderRepository(store).Get(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)

	stats, err := NewOutboxRepository(store).Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
}

func TestLedgerStore_PostgresUpdateOrderRollsBackWithOutbox(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)
	ledger := NewLedgerStore(store)
	repo := NewOrderRepository(store)

	order := sampleOrder("ledger-order-status", "", now)
	require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.InsertOrder(ctx, order)
	}))

	boom := errors.New("outbox down")
	order.Status = domain.OrderStatusProcessing
	err := ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, stored.Status)

	require.NoError(t, ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		_, err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   order.ID,
			EventType:     domain.EventOrderStatusChanged,
			Payload:       []byte(`{"order_id":"ledger-order-status"}`),
		})
		return err
	}))

	stored, err = repo.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, stored.Status)
	require.EqualValues(t, 1, stored.Version)

	err = ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.UpdateOrder(ctx, order)
	})
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
}

func TestLedgerStore_PostgresRollback(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	catalog := NewCatalogRepository(store)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	require.NoError(t, catalog.Create(ctx, sampleProduct("SHAWL-1", 5, now)))

	boom := errors.New("boom")
	order := sampleOrder("ledger-order-rollback", "", now)
	err := NewLedgerStore(store).InTx(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.DecrementInventory(ctx, "SHAWL-1", 5); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	product, err := catalog.Get(ctx, "SHAWL-1")
	require.NoError(t, err)
	require.Equal(t, 5, product.Inventory)

	_, err = NewOrderRepository(store).Get(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestLedgerStore_PostgresConditionalDecrementUnderContention(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	catalog := NewCatalogRepository(store)
	ctx := context.Background()

	require.NoError(t, catalog.Create(ctx, sampleProduct("SHAWL-1", 3, time.Now().UTC())))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = NewLedgerStore(store).InTx(ctx, func(tx domain.LedgerTx) error {
				ok, err := tx.DecrementInventory(ctx, "SHAWL-1", 1)
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					granted++
					mu.Unlock()
				}
				return nil
			})
		}()
	}
	wg.Wait()

	require.Equal(t, 3, granted)
	product, err := catalog.Get(ctx, "SHAWL-1")
	require.NoError(t, err)
	require.Equal(t, 0, product.Inventory)
}

func TestCatalogRepository_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	catalog := NewCatalogRepository(store)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	hidden := sampleProduct("SHAWL-2", 0, now.Add(time.Second))
	hidden.Published = false
	require.NoError(t, catalog.Create(ctx, sampleProduct("SHAWL-1", 2, now)))
	require.NoError(t, catalog.Create(ctx, hidden))
	require.ErrorIs(t, catalog.Create(ctx, hidden), domain.ErrProductAlreadyExists)

	published, err := catalog.List(ctx, domain.ProductFilter{PublishedOnly: true})
	require.NoError(t, err)
	require.Len(t, published, 1)
	require.Equal(t, "SHAWL-1", published[0].ID)

	inStock, err := catalog.ListInStock(ctx, []string{"SHAWL-1", "SHAWL-2", "missing"})
	require.NoError(t, err)
	require.Len(t, inStock, 1)
	require.True(t, inStock[0].Price.Equal(sampleProduct("x", 0, now).Price))

	adjusted, err := catalog.AdjustInventory(ctx, "SHAWL-2", 4)
	require.NoError(t, err)
	require.Equal(t, 4, adjusted.Inventory)

	_, err = catalog.AdjustInventory(ctx, "SHAWL-2", -5)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	_, err = catalog.AdjustInventory(ctx, "missing", 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}
