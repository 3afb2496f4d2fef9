package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
	"github.com/vladislavdragonenkov/shawlshop/internal/storage/memory"
)

var (
	admin    = domain.Identity{CustomerID: "admin-1", Role: domain.RoleAdmin}
	customer = domain.Identity{CustomerID: "cust-1", Role: domain.RoleCustomer}
	stranger = domain.Identity{CustomerID: "cust-2", Role: domain.RoleCustomer}
)

type fixture struct {
	store    *memory.Store
	repo     domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	svc      Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		store:    store,
		repo:     memory.NewOrderRepository(store),
		timeline: memory.NewTimelineRepository(),
		outbox:   memory.NewOutboxRepository(store),
	}
	opts = append([]Option{WithMetrics(nil)}, opts...)
	f.svc = NewService(f.repo, f.timeline, memory.NewLedgerStore(store), log.WithField("test", t.Name()), opts...)
	return f
}

func (f *fixture) seed(t *testing.T, id, customerID string, status domain.OrderStatus) domain.Order {
	t.Helper()
	now := time.Now().UTC()
	order := domain.Order{
		ID:              id,
		CustomerID:      customerID,
		CustomerName:    "Anna",
		CustomerEmail:   "anna@example.com",
		ShippingAddress: "Nevsky 10",
		Status:          status,
		Items: []domain.OrderItem{
			{ID: id + "-1", OrderID: id, ProductID: "P1", Quantity: 1, Price: decimal.NewFromInt(75)},
		},
		Total:     decimal.NewFromInt(75),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := memory.NewLedgerStore(f.store).InTx(context.Background(), func(tx domain.LedgerTx) error {
		return tx.InsertOrder(context.Background(), order)
	})
	require.NoError(t, err)
	return order
}

func TestGetOrder_Access(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, "o-1", customer.CustomerID, domain.OrderStatusPending)

	tests := []struct {
		name     string
		identity domain.Identity
		wantErr  error
	}{
		{name: "owner", identity: customer},
		{name: "admin", identity: admin},
		{name: "other customer", identity: stranger, wantErr: domain.ErrOrderNotFound},
		{name: "guest", identity: domain.Guest(), wantErr: domain.ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := f.svc.GetOrder(context.Background(), tt.identity, order.ID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, order.ID, view.Order.ID)
			assert.True(t, view.Order.Total.Equal(order.Total))
		})
	}
}

func TestListOrders_CustomerSeesOwnOnly(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "o-1", customer.CustomerID, domain.OrderStatusPending)
	f.seed(t, "o-2", stranger.CustomerID, domain.OrderStatusPending)
	f.seed(t, "o-3", "", domain.OrderStatusPending)

	own, err := f.svc.ListOrders(context.Background(), customer, domain.OrderFilter{CustomerID: stranger.CustomerID})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "o-1", own[0].ID)

	all, err := f.svc.ListOrders(context.Background(), admin, domain.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.svc.ListOrders(context.Background(), domain.Guest(), domain.OrderFilter{})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = f.svc.ListOrders(context.Background(), admin, domain.OrderFilter{Status: "SHIPPED"})
	require.ErrorIs(t, err, domain.ErrStatusUnknown)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.OrderStatus
		to      domain.OrderStatus
		wantErr error
	}{
		{name: "pending to processing", from: domain.OrderStatusPending, to: domain.OrderStatusProcessing},
		{name: "processing to delivered", from: domain.OrderStatusProcessing, to: domain.OrderStatusDelivered},
		{name: "pending to cancelled", from: domain.OrderStatusPending, to: domain.OrderStatusCancelled},
		{name: "pending to delivered", from: domain.OrderStatusPending, to: domain.OrderStatusDelivered, wantErr: domain.ErrStatusTransition},
		{name: "delivered is terminal", from: domain.OrderStatusDelivered, to: domain.OrderStatusCancelled, wantErr: domain.ErrStatusTransition},
		{name: "unknown status", from: domain.OrderStatusPending, to: "LOST", wantErr: domain.ErrStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			order := f.seed(t, "o-1", customer.CustomerID, tt.from)

			updated, err := f.svc.UpdateStatus(context.Background(), admin, order.ID, tt.to, "")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				stored, getErr := f.repo.Get(context.Background(), order.ID)
				require.NoError(t, getErr)
				assert.Equal(t, tt.from, stored.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, updated.Status)
			assert.EqualValues(t, 1, updated.Version)
		})
	}
}

func TestUpdateStatus_WritesTimelineAndOutbox(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, "o-1", customer.CustomerID, domain.OrderStatusPending)

	_, err := f.svc.UpdateStatus(context.Background(), admin, order.ID, "processing", "packed")
	require.NoError(t, err)

	view, err := f.svc.GetOrder(context.Background(), admin, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, view.Order.Status)
	require.Len(t, view.Timeline, 1)
	assert.Equal(t, domain.TimelineStatusChanged, view.Timeline[0].Type)
	assert.Contains(t, view.Timeline[0].Reason, "packed")

	pending, err := f.outbox.PullPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventOrderStatusChanged, pending[0].EventType)

	var payload domain.OrderStatusChangedPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, domain.OrderStatusPending, payload.From)
	assert.Equal(t, domain.OrderStatusProcessing, payload.To)
}

func TestUpdateStatus_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, "o-1", customer.CustomerID, domain.OrderStatusPending)

	_, err := f.svc.UpdateStatus(context.Background(), customer, order.ID, domain.OrderStatusCancelled, "")
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.UpdateStatus(context.Background(), domain.Guest(), order.ID, domain.OrderStatusCancelled, "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = f.svc.UpdateStatus(context.Background(), admin, "missing", domain.OrderStatusCancelled, "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

// brokenOutboxLedger пропускает запись заказа, но роняет вставку в outbox.
type brokenOutboxLedger struct {
	domain.LedgerStore
}

func (l brokenOutboxLedger) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return l.LedgerStore.InTx(ctx, func(tx domain.LedgerTx) error {
		return fn(brokenOutboxTx{tx})
	})
}

type brokenOutboxTx struct {
	domain.LedgerTx
}

func (brokenOutboxTx) EnqueueOutbox(context.Context, domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("outbox insert failed")
}

func TestUpdateStatus_OutboxFailureRollsBackStatus(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, "o-1", customer.CustomerID, domain.OrderStatusPending)
	svc := NewService(f.repo, f.timeline, brokenOutboxLedger{memory.NewLedgerStore(f.store)}, nil, WithMetrics(nil))

	_, err := svc.UpdateStatus(context.Background(), admin, order.ID, domain.OrderStatusProcessing, "packed")
	require.ErrorContains(t, err, "outbox insert failed")

	stored, err := f.repo.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.Zero(t, stored.Version)

	timeline, err := f.timeline.List(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Empty(t, timeline)

	pending, err := f.outbox.PullPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUpdateStatus_ConsecutiveTransitionsKeepVersion(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, "o-1", customer.CustomerID, domain.OrderStatusPending)

	for _, next := range []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusDelivered} {
		updated, err := f.svc.UpdateStatus(context.Background(), admin, order.ID, next, "")
		require.NoError(t, err)
		assert.Equal(t, next, updated.Status)
	}

	stored, err := f.repo.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored.Version)
	require.Len(t, stored.Items, 1)

	pending, err := f.outbox.PullPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

// conflictingRepo отвечает конфликтом версий первые n вызовов Save.
type conflictingRepo struct {
	domain.OrderRepository
	conflicts atomic.Int32
	saves     atomic.Int32
}

func (r *conflictingRepo) Save(ctx context.Context, order domain.Order) error {
	r.saves.Add(1)
	if r.conflicts.Add(-1) >= 0 {
		return domain.ErrOrderVersionConflict
	}
	return r.OrderRepository.Save(ctx, order)
}

func TestUpdateStatus_RetriesVersionConflict(t *testing.T) {
	f := newFixture(t)
	order := f.seed(t, "o-1", customer.CustomerID, domain.OrderStatusPending)

	repo := &conflictingRepo{OrderRepository: f.repo}
	repo.conflicts.Store(2)
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	svc := NewService(repo, nil, nil, nil, WithMetrics(nil), WithRetryConfig(cfg))

	updated, err := svc.UpdateStatus(context.Background(), admin, order.ID, domain.OrderStatusProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, updated.Status)
	assert.EqualValues(t, 3, repo.saves.Load())
}

func TestRetryOnConflict(t *testing.T) {
	logger := log.New().WithField("test", "retry")
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}

	t.Run("gives up after max attempts", func(t *testing.T) {
		attempts := 0
		err := retryOnConflict(context.Background(), cfg, logger, "o-1", func() error {
			attempts++
			return domain.ErrOrderVersionConflict
		})
		require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
		assert.Equal(t, 3, attempts)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		attempts := 0
		boom := errors.New("boom")
		err := retryOnConflict(context.Background(), cfg, logger, "o-1", func() error {
			attempts++
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, attempts)
	})

	t.Run("context cancellation stops backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}
		err := retryOnConflict(ctx, slow, logger, "o-1", func() error {
			return domain.ErrOrderVersionConflict
		})
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("zero attempts runs once", func(t *testing.T) {
		attempts := 0
		err := retryOnConflict(context.Background(), RetryConfig{}, logger, "o-1", func() error {
			attempts++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Greater(t, cfg.BackoffFactor, 1.0)
	assert.Positive(t, cfg.InitialDelay)
}
