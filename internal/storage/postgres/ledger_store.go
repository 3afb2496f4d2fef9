package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
)

// ledgerTimeout ограничивает всю транзакцию оформления, а не отдельный запрос.
const ledgerTimeout = 10 * time.Second

type ledgerStore struct {
	db *sql.DB
}

// NewLedgerStore создаёт транзакционную фазу оформления заказа поверх PostgreSQL.
func NewLedgerStore(store *Store) domain.LedgerStore {
	return &ledgerStore{db: store.DB()}
}

func (l *ledgerStore) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()

	return withTx(ctx, l.db, func(tx *sql.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

type ledgerTx struct {
	tx *sql.Tx
}

// DecrementInventory: условное относительное списание: при нехватке
// остатка строка не обновляется и inventory не уходит в минус.
func (t *ledgerTx) DecrementInventory(ctx context.Context, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, domain.ErrItemQtyInvalid
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET inventory = inventory - $1,
		    updated_at = $3
		WHERE id = $2
		  AND inventory >= $1
	`, qty, productID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("decrement inventory: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (t *ledgerTx) InsertOrder(ctx context.Context, order domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		order.ID, order.CustomerID, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.ShippingAddress, order.Notes, string(order.Status), order.Total, order.Version,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for pos, item := range order.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, price, position)
			VALUES ($1,$2,$3,$4,$5,$6)
		`,
			item.ID, order.ID, item.ProductID, item.Quantity, item.Price, pos,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func (t *ledgerTx) UpdateOrder(ctx context.Context, order domain.Order) error {
	return updateOrderTx(ctx, t.tx, order)
}

func (t *ledgerTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := insertOutbox(ctx, t.tx, msg, time.Now().UTC()); err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

var (
	_ domain.LedgerStore = (*ledgerStore)(nil)
	_ domain.LedgerTx    = (*ledgerTx)(nil)
)
