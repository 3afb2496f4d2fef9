// Package orders, чтение заказов и смена статуса из админки.
package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
	"github.com/vladislavdragonenkov/shawlshop/internal/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// View: заказ вместе с его таймлайном.
type View struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
}

// Service описывает операции над оформленными заказами.
type Service interface {
	GetOrder(ctx context.Context, identity domain.Identity, id string) (View, error)
	ListOrders(ctx context.Context, identity domain.Identity, filter domain.OrderFilter) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, identity domain.Identity, id string, status domain.OrderStatus, reason string) (domain.Order, error)
}

// Option настраивает сервис.
type Option func(*service)

// WithMetrics подменяет метрики (nil отключает их).
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithRetryConfig задаёт повторы при конфликте версий.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *service) {
		s.retry = cfg
	}
}

type service struct {
	repo     domain.OrderRepository
	timeline domain.TimelineRepository
	ledger   domain.LedgerStore
	metrics  *metrics.LedgerMetrics
	retry    RetryConfig
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис заказов. Смена статуса и событие order.status_changed
// пишутся одной транзакцией ledger; без ledger заказ сохраняется через repo без события.
func NewService(repo domain.OrderRepository, timeline domain.TimelineRepository, ledger domain.LedgerStore, logger *log.Entry, opts ...Option) Service {
	if logger == nil {
		logger = log.New().WithField("component", "orders")
	}
	s := &service{
		repo:     repo,
		timeline: timeline,
		ledger:   ledger,
		metrics:  metrics.NewLedgerMetrics(),
		retry:    DefaultRetryConfig(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *service) GetOrder(ctx context.Context, identity domain.Identity, id string) (View, error) {
	if identity.IsGuest() {
		return View{}, domain.ErrUnauthenticated
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return View{}, domain.ErrOrderNotFound
	}

	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	// Чужой заказ неотличим от несуществующего.
	if !identity.CanRead(order) {
		return View{}, domain.ErrOrderNotFound
	}

	view := View{Order: order}
	if s.timeline != nil {
		events, err := s.timeline.List(ctx, id)
		if err != nil {
			return View{}, fmt.Errorf("list timeline for order %s: %w", id, err)
		}
		view.Timeline = events
	}
	return view, nil
}

func (s *service) ListOrders(ctx context.Context, identity domain.Identity, filter domain.OrderFilter) ([]domain.Order, error) {
	if identity.IsGuest() {
		return nil, domain.ErrUnauthenticated
	}
	if !identity.IsAdmin() {
		filter.CustomerID = identity.CustomerID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.ErrStatusUnknown
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	return s.repo.List(ctx, filter)
}

func (s *service) UpdateStatus(ctx context.Context, identity domain.Identity, id string, status domain.OrderStatus, reason string) (domain.Order, error) {
	if identity.IsGuest() {
		return domain.Order{}, domain.ErrUnauthenticated
	}
	if !identity.IsAdmin() {
		return domain.Order{}, domain.ErrForbidden
	}
	status = domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return domain.Order{}, domain.ErrStatusUnknown
	}
	reason = strings.TrimSpace(reason)

	var (
		updated domain.Order
		from    domain.OrderStatus
	)
	err := retryOnConflict(ctx, s.retry, s.logger, id, func() error {
		order, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrStatusTransition, order.Status, status)
		}

		from = order.Status
		order.Status = status
		order.UpdatedAt = s.now()
		if err := s.save(ctx, order, from, reason); err != nil {
			return err
		}
		order.Version++
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordStatusChange(string(status))
	if s.ledger != nil {
		s.metrics.RecordOutboxEvent()
	}
	s.appendTimeline(ctx, updated, from, reason)

	s.logger.WithFields(log.Fields{
		"order_id": id,
		"from":     from,
		"to":       status,
		"admin":    identity.CustomerID,
	}).Info("order status changed")
	return updated, nil
}

func (s *service) appendTimeline(ctx context.Context, order domain.Order, from domain.OrderStatus, reason string) {
	if s.timeline == nil {
		return
	}
	text := fmt.Sprintf("%s -> %s", from, order.Status)
	if reason != "" {
		text += ": " + reason
	}
	event := domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineStatusChanged,
		Reason:   text,
		Occurred: order.UpdatedAt,
	}
	if err := s.timeline.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
	}
}

func (s *service) save(ctx context.Context, order domain.Order, from domain.OrderStatus, reason string) error {
	if s.ledger == nil {
		return s.repo.Save(ctx, order)
	}

	payload, err := json.Marshal(domain.OrderStatusChangedPayload{
		OrderID:   order.ID,
		From:      from,
		To:        order.Status,
		Reason:    reason,
		ChangedAt: order.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", domain.EventOrderStatusChanged, err)
	}

	return s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if _, err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   order.ID,
			EventType:     domain.EventOrderStatusChanged,
			Payload:       payload,
		}); err != nil {
			return fmt.Errorf("enqueue %s: %w", domain.EventOrderStatusChanged, err)
		}
		return nil
	})
}
