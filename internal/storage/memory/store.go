package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
)

// Store: общее in-memory состояние каталога, заказов и outbox.
// Один мьютекс сериализует транзакции оформления заказа.
type Store struct {
	mu        sync.RWMutex
	products  map[string]domain.Product
	orders    map[string]domain.Order
	outbox    map[string]*outboxRecord
	outboxSeq int64
}

// NewStore создаёт пустое хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		outbox:   make(map[string]*outboxRecord),
	}
}

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	seq        int64
	createdAt  time.Time
	updatedAt  time.Time
}

// putOutboxLocked сохраняет сообщение в статусе pending; вызывается под mu.
func (s *Store) putOutboxLocked(msg domain.OutboxMessage, now time.Time) {
	s.outboxSeq++
	s.outbox[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    "pending",
		seq:       s.outboxSeq,
		createdAt: now,
		updatedAt: now,
	}
}

// versionedOrderLocked сверяет Version и возвращает заказ для записи;
// позиции и сумма не меняются после оформления. Вызывается под mu.
func (s *Store) versionedOrderLocked(order domain.Order) (domain.Order, error) {
	current, ok := s.orders[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	order.Items = current.Items
	order.Total = current.Total
	order.Version++
	return cloneOrder(order), nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

func cloneMessage(src domain.OutboxMessage) domain.OutboxMessage {
	dst := src
	dst.Payload = append([]byte(nil), src.Payload...)
	return dst
}
