package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
)

type ledgerStoreInMemory struct {
	store *Store
}

// NewLedgerStore возвращает транзакционную фазу оформления поверх Store.
// Изменения копятся в транзакции и применяются только при успешном fn.
func NewLedgerStore(store *Store) domain.LedgerStore {
	return &ledgerStoreInMemory{store: store}
}

func (l *ledgerStoreInMemory) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	tx := &ledgerTxInMemory{
		store:      l.store,
		decrements: make(map[string]int),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commitLocked(time.Now().UTC())
	return nil
}

// ledgerTxInMemory живёт только под заблокированным Store.mu.
type ledgerTxInMemory struct {
	store      *Store
	decrements map[string]int
	orders     []domain.Order
	updates    []domain.Order
	messages   []domain.OutboxMessage
}

func (tx *ledgerTxInMemory) DecrementInventory(ctx context.Context, productID string, qty int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if qty <= 0 {
		return false, domain.ErrItemQtyInvalid
	}

	product, ok := tx.store.products[productID]
	if !ok {
		return false, nil
	}
	available := product.Inventory - tx.decrements[productID]
	if available < qty {
		return false, nil
	}
	tx.decrements[productID] += qty
	return true, nil
}

func (tx *ledgerTxInMemory) InsertOrder(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, exists := tx.store.orders[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	for _, staged := range tx.orders {
		if staged.ID == order.ID {
			return domain.ErrOrderVersionConflict
		}
	}
	tx.orders = append(tx.orders, cloneOrder(order))
	return nil
}

func (tx *ledgerTxInMemory) UpdateOrder(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, staged := range tx.updates {
		if staged.ID == order.ID {
			return domain.ErrOrderVersionConflict
		}
	}
	updated, err := tx.store.versionedOrderLocked(order)
	if err != nil {
		return err
	}
	tx.updates = append(tx.updates, updated)
	return nil
}

func (tx *ledgerTxInMemory) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxMessage{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	tx.messages = append(tx.messages, cloneMessage(msg))
	return msg, nil
}

func (tx *ledgerTxInMemory) commitLocked(now time.Time) {
	for id, qty := range tx.decrements {
		product := tx.store.products[id]
		product.Inventory -= qty
		product.UpdatedAt = now
		tx.store.products[id] = product
	}
	for _, order := range tx.orders {
		tx.store.orders[order.ID] = order
	}
	for _, order := range tx.updates {
		tx.store.orders[order.ID] = order
	}
	for _, msg := range tx.messages {
		tx.store.putOutboxLocked(msg, now)
	}
}

var (
	_ domain.LedgerStore = (*ledgerStoreInMemory)(nil)
	_ domain.LedgerTx    = (*ledgerTxInMemory)(nil)
)
