// Package ledger оформляет заказы: проверяет корзину, отбрасывает позиции,
// которых нет в наличии, и в одной транзакции пишет заказ и списывает склад.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
	"github.com/vladislavdragonenkov/shawlshop/internal/metrics"
)

// Service: точка входа оформления заказа для HTTP и gRPC.
type Service interface {
	PlaceOrder(ctx context.Context, identity domain.Identity, req domain.PlaceOrderRequest) (Result, error)
}

// DroppedLine: позиция корзины, не попавшая в заказ.
type DroppedLine struct {
	ProductID string
	Quantity  int
	Reason    string
}

// Result описывает созданный заказ и отброшенные позиции.
type Result struct {
	Order   domain.Order
	Dropped []DroppedLine
}

// Option настраивает сервис.
type Option func(*service)

// WithMetrics подменяет метрики (nil отключает их).
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithTimeline включает запись события order_placed в таймлайн.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *service) {
		s.timeline = repo
	}
}

// WithClock задаёт источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator задаёт генератор идентификаторов заказа и позиций.
func WithIDGenerator(gen func() string) Option {
	return func(s *service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

type service struct {
	catalog  domain.CatalogRepository
	ledger   domain.LedgerStore
	timeline domain.TimelineRepository
	metrics  *metrics.LedgerMetrics
	logger   *log.Entry
	now      func() time.Time
	newID    func() string
}

// NewService собирает сервис оформления заказов.
func NewService(catalog domain.CatalogRepository, ledger domain.LedgerStore, logger *log.Entry, opts ...Option) Service {
	if logger == nil {
		logger = log.New().WithField("component", "ledger")
	}
	s := &service{
		catalog: catalog,
		ledger:  ledger,
		metrics: metrics.NewLedgerMetrics(),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type keptLine struct {
	productID string
	quantity  int
	price     decimal.Decimal
}

func (s *service) PlaceOrder(ctx context.Context, identity domain.Identity, req domain.PlaceOrderRequest) (Result, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordPlaceDuration(time.Since(start))
	}()

	req = req.Normalize()
	if err := req.Validate(); err != nil {
		s.metrics.RecordValidationRejected()
		return Result{}, err
	}

	products, err := s.catalog.ListInStock(ctx, req.ProductIDs())
	if err != nil {
		return Result{}, s.failure(fmt.Errorf("lookup products: %w", err), "")
	}
	if len(products) == 0 {
		s.metrics.RecordOutOfStock()
		return Result{}, &domain.OutOfStockError{Message: domain.OutOfStockNoProducts}
	}

	kept, dropped := s.filterLines(req.Items, products)
	if len(kept) == 0 {
		s.metrics.RecordOutOfStock()
		return Result{}, &domain.OutOfStockError{Message: domain.OutOfStockAllDropped}
	}

	now := s.now()
	order := domain.Order{
		ID:              s.newID(),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !identity.IsGuest() {
		order.CustomerID = identity.CustomerID
	}

	var raced []DroppedLine
	err = s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		raced = raced[:0]
		items := make([]domain.OrderItem, 0, len(kept))
		for _, line := range kept {
			ok, err := tx.DecrementInventory(ctx, line.productID, line.quantity)
			if err != nil {
				return err
			}
			if !ok {
				// Остаток забрал параллельный заказ между чтением и списанием.
				raced = append(raced, DroppedLine{ProductID: line.productID, Quantity: line.quantity, Reason: metrics.DropReasonRace})
				continue
			}
			items = append(items, domain.OrderItem{
				ID:        s.newID(),
				OrderID:   order.ID,
				ProductID: line.productID,
				Quantity:  line.quantity,
				Price:     line.price,
			})
		}
		if len(items) == 0 {
			return &domain.OutOfStockError{Message: domain.OutOfStockAllDropped}
		}

		order.Items = items
		order.Total = domain.SumItems(items)
		if problems := order.ValidateInvariants(); len(problems) > 0 {
			return fmt.Errorf("order invariants: %w", errors.Join(problems...))
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.NewOrderPlacedPayload(order))
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", domain.EventOrderPlaced, err)
		}
		_, err = tx.EnqueueOutbox(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   order.ID,
			EventType:     domain.EventOrderPlaced,
			Payload:       payload,
		})
		return err
	})
	if err != nil {
		var oos *domain.OutOfStockError
		if errors.As(err, &oos) {
			s.metrics.RecordOutOfStock()
			return Result{}, err
		}
		return Result{}, s.failure(err, order.ID)
	}

	dropped = append(dropped, raced...)
	for _, d := range dropped {
		s.metrics.RecordLineDropped(d.Reason)
	}
	s.metrics.RecordOrderPlaced(order.Total.InexactFloat64())
	s.metrics.RecordOutboxEvent()
	s.appendTimeline(ctx, order)

	entry := s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"items":    len(order.Items),
		"total":    order.Total.StringFixed(2),
		"guest":    order.CustomerID == "",
	})
	if len(dropped) > 0 {
		entry = entry.WithField("dropped", len(dropped))
	}
	entry.Info("order placed")

	return Result{Order: order, Dropped: dropped}, nil
}

// filterLines применяет снимок товаров к корзине: неизвестные товары и
// позиции с нехваткой остатка молча отбрасываются.
func (s *service) filterLines(lines []domain.CartLine, products []domain.Product) ([]keptLine, []DroppedLine) {
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	kept := make([]keptLine, 0, len(lines))
	var dropped []DroppedLine
	for _, line := range lines {
		product, ok := byID[line.ProductID]
		if !ok {
			dropped = append(dropped, DroppedLine{ProductID: line.ProductID, Quantity: line.Quantity, Reason: metrics.DropReasonNotFound})
			continue
		}
		if product.Inventory < line.Quantity {
			dropped = append(dropped, DroppedLine{ProductID: line.ProductID, Quantity: line.Quantity, Reason: metrics.DropReasonShortage})
			continue
		}
		kept = append(kept, keptLine{productID: product.ID, quantity: line.Quantity, price: product.Price})
	}
	return kept, dropped
}

func (s *service) failure(err error, orderID string) error {
	s.metrics.RecordLedgerFailure()
	fields := log.Fields{}
	if orderID != "" {
		fields["order_id"] = orderID
	}
	s.logger.WithError(err).WithFields(fields).Error("order placement failed")
	return &domain.TransactionError{Err: err}
}

func (s *service) appendTimeline(ctx context.Context, order domain.Order) {
	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineOrderPlaced,
		Reason:   "checkout",
		Occurred: order.CreatedAt,
	}
	if err := s.timeline.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
	}
}
