package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AggregateOrder: тип агрегата в outbox для событий заказа.
const AggregateOrder = "order"

// Типы событий, которые пишутся в outbox.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderPlacedLine: позиция в событии order.placed.
type OrderPlacedLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// OrderPlacedPayload: тело события order.placed.
type OrderPlacedPayload struct {
	OrderID    string            `json:"order_id"`
	CustomerID string            `json:"customer_id,omitempty"`
	Total      decimal.Decimal   `json:"total"`
	Lines      []OrderPlacedLine `json:"lines"`
	PlacedAt   time.Time         `json:"placed_at"`
}

// NewOrderPlacedPayload собирает событие из только что созданного заказа.
func NewOrderPlacedPayload(order Order) OrderPlacedPayload {
	lines := make([]OrderPlacedLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, OrderPlacedLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	return OrderPlacedPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Total:      order.Total,
		Lines:      lines,
		PlacedAt:   order.CreatedAt,
	}
}

// OrderStatusChangedPayload: тело события order.status_changed.
type OrderStatusChangedPayload struct {
	OrderID   string      `json:"order_id"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	Reason    string      `json:"reason,omitempty"`
	ChangedAt time.Time   `json:"changed_at"`
}
