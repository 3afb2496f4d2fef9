package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderPlaced   = "order_placed"
	TimelineStatusChanged = "status_changed"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
