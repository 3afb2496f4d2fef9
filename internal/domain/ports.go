package domain

import (
	"context"
	"time"
)

// CatalogRepository хранит товары каталога и их остатки.
type CatalogRepository interface {
	Create(ctx context.Context, product Product) error
	Get(ctx context.Context, id string) (Product, error)
	List(ctx context.Context, filter ProductFilter) ([]Product, error)
	// ListInStock возвращает товары из ids с inventory > 0; отсутствующие id пропускаются.
	ListInStock(ctx context.Context, ids []string) ([]Product, error)
	// AdjustInventory меняет остаток на delta и не допускает ухода в минус.
	AdjustInventory(ctx context.Context, id string, delta int) (Product, error)
}

// OrderRepository читает заказы и сохраняет смену статуса.
type OrderRepository interface {
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// Save обновляет заказ с проверкой Version (optimistic locking).
	Save(ctx context.Context, order Order) error
}

// LedgerStore открывает атомарную фазу записи заказа и его событий outbox.
type LedgerStore interface {
	// InTx выполняет fn в одной транзакции: ошибка fn откатывает все записи.
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx: операции, доступные внутри транзакции оформления.
type LedgerTx interface {
	// DecrementInventory списывает qty, только если остатка хватает.
	// false означает, что строка не обновлена и позицию нужно отбросить.
	DecrementInventory(ctx context.Context, productID string, qty int) (bool, error)
	// InsertOrder записывает заказ вместе с позициями.
	InsertOrder(ctx context.Context, order Order) error
	// UpdateOrder сохраняет статус и заметки с проверкой Version, как OrderRepository.Save.
	UpdateOrder(ctx context.Context, order Order) error
	// EnqueueOutbox кладёт событие в outbox в той же транзакции.
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
	// Release удаляет ключ, чтобы повтор запроса выполнился заново.
	Release(ctx context.Context, key string) error
	// ReleaseStale освобождает processing-ключи, созданные не позже startedBefore:
	// так остаётся checkout, процесс которого упал до MarkDone/MarkFailed.
	ReleaseStale(ctx context.Context, startedBefore time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
