package grpcsvc

import (
	"context"
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	storefrontv1 "github.com/vladislavdragonenkov/shawlshop/api/storefront/v1"
	"github.com/vladislavdragonenkov/shawlshop/internal/auth"
	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/ledger"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/orders"
)

const idempotencyKeyHeader = "idempotency-key"

// StorefrontService реализует gRPC API витрины поверх доменных сервисов.
type StorefrontService struct {
	storefrontv1.UnimplementedStorefrontServiceServer

	ledger   ledger.Service
	orders   orders.Service
	catalog  catalog.Service
	guard    *idempotency.Guard
	sessions *auth.Sessions
	logger   *log.Entry
}

// Option настраивает StorefrontService.
type Option func(*StorefrontService)

// WithGuard включает повтор ответа PlaceOrder по idempotency-key.
func WithGuard(guard *idempotency.Guard) Option {
	return func(s *StorefrontService) {
		s.guard = guard
	}
}

// WithSessions включает разбор x-session-token. Без него все вызовы гостевые.
func WithSessions(sessions *auth.Sessions) Option {
	return func(s *StorefrontService) {
		s.sessions = sessions
	}
}

// NewStorefrontService конструирует сервис с зависимостями.
func NewStorefrontService(
	ledgerSvc ledger.Service,
	ordersSvc orders.Service,
	catalogSvc catalog.Service,
	logger *log.Entry,
	opts ...Option,
) *StorefrontService {
	if logger == nil {
		logger = log.New().WithField("component", "storefront-grpc")
	}
	s := &StorefrontService{
		ledger:  ledgerSvc,
		orders:  ordersSvc,
		catalog: catalogSvc,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// PlaceOrder оформляет заказ. Невалидная или просроченная сессия даёт гостевой checkout.
func (s *StorefrontService) PlaceOrder(ctx context.Context, req *storefrontv1.PlaceOrderRequest) (*storefrontv1.PlaceOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	identity, err := s.identity(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("invalid session on checkout, continuing as guest")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode request")
	}
	scope := storefrontv1.StorefrontService_PlaceOrder_FullMethodName + ":" + identity.CustomerID

	out, replayed, err := s.guard.Do(ctx, readIdempotencyKey(ctx), idempotency.RequestHash(scope, payload), func(ctx context.Context) (idempotency.Outcome, error) {
		resp, err := s.placeOrder(ctx, identity, req)
		if err != nil {
			if domain.IsFinalRejection(err) {
				return failureOutcome(toStatus(err)), nil
			}
			return idempotency.Outcome{}, err
		}
		body, err := json.Marshal(resp)
		if err != nil {
			return idempotency.Outcome{}, status.Error(codes.Internal, "failed to encode response")
		}
		return idempotency.Outcome{Code: int(codes.OK), Body: body}, nil
	})
	if err != nil {
		return nil, toStatus(err)
	}
	if replayed {
		s.logger.WithField("method", "PlaceOrder").Debug("replayed idempotent response")
	}
	if out.Failed {
		return nil, decodeFailure(out)
	}

	var resp storefrontv1.PlaceOrderResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, status.Error(codes.Internal, "failed to decode cached response")
	}
	return &resp, nil
}

func (s *StorefrontService) placeOrder(ctx context.Context, identity domain.Identity, req *storefrontv1.PlaceOrderRequest) (*storefrontv1.PlaceOrderResponse, error) {
	result, err := s.ledger.PlaceOrder(ctx, identity, fromPlaceOrderRequest(req))
	if err != nil {
		return nil, err
	}

	dropped := make([]*storefrontv1.DroppedLine, 0, len(result.Dropped))
	for _, line := range result.Dropped {
		dropped = append(dropped, &storefrontv1.DroppedLine{
			ProductId: line.ProductID,
			Quantity:  int32(line.Quantity), //nolint:gosec // количество ограничено int32 на входе.
			Reason:    line.Reason,
		})
	}

	return &storefrontv1.PlaceOrderResponse{
		OrderId: result.Order.ID,
		Order:   toProtoOrder(result.Order),
		Dropped: dropped,
	}, nil
}

// GetOrder возвращает заказ с таймлайном своему покупателю или администратору.
func (s *StorefrontService) GetOrder(ctx context.Context, req *storefrontv1.GetOrderRequest) (*storefrontv1.GetOrderResponse, error) {
	if req == nil || strings.TrimSpace(req.OrderId) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	identity, err := s.identity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	view, err := s.orders.GetOrder(ctx, identity, strings.TrimSpace(req.OrderId))
	if err != nil {
		s.logFailure(err, "GetOrder", req.OrderId)
		return nil, toStatus(err)
	}

	timeline := make([]*storefrontv1.TimelineEvent, 0, len(view.Timeline))
	for _, event := range view.Timeline {
		timeline = append(timeline, &storefrontv1.TimelineEvent{
			Type:     event.Type,
			Reason:   event.Reason,
			UnixTime: event.Occurred.Unix(),
		})
	}

	return &storefrontv1.GetOrderResponse{Order: toProtoOrder(view.Order), Timeline: timeline}, nil
}

// ListOrders возвращает заказы: покупателю свои, администратору любые.
func (s *StorefrontService) ListOrders(ctx context.Context, req *storefrontv1.ListOrdersRequest) (*storefrontv1.ListOrdersResponse, error) {
	if req == nil {
		req = &storefrontv1.ListOrdersRequest{}
	}

	identity, err := s.identity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	list, err := s.orders.ListOrders(ctx, identity, domain.OrderFilter{
		CustomerID: strings.TrimSpace(req.CustomerId),
		Status:     domain.OrderStatus(req.Status),
		Limit:      int(req.Limit),
	})
	if err != nil {
		s.logFailure(err, "ListOrders", "")
		return nil, toStatus(err)
	}

	result := make([]*storefrontv1.Order, 0, len(list))
	for _, order := range list {
		result = append(result, toProtoOrder(order))
	}
	return &storefrontv1.ListOrdersResponse{Orders: result}, nil
}

// UpdateOrderStatus переводит заказ в новый статус. Только для администратора.
func (s *StorefrontService) UpdateOrderStatus(ctx context.Context, req *storefrontv1.UpdateOrderStatusRequest) (*storefrontv1.UpdateOrderStatusResponse, error) {
	if req == nil || strings.TrimSpace(req.OrderId) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	identity, err := s.identity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	order, err := s.orders.UpdateStatus(ctx, identity, strings.TrimSpace(req.OrderId), domain.OrderStatus(req.Status), req.Reason)
	if err != nil {
		s.logFailure(err, "UpdateOrderStatus", req.OrderId)
		return nil, toStatus(err)
	}
	return &storefrontv1.UpdateOrderStatusResponse{Order: toProtoOrder(order)}, nil
}

// ListProducts возвращает опубликованный каталог.
func (s *StorefrontService) ListProducts(ctx context.Context, req *storefrontv1.ListProductsRequest) (*storefrontv1.ListProductsResponse, error) {
	limit := 0
	if req != nil {
		limit = int(req.Limit)
	}

	products, err := s.catalog.ListProducts(ctx, domain.ProductFilter{PublishedOnly: true, Limit: limit})
	if err != nil {
		s.logFailure(err, "ListProducts", "")
		return nil, status.Error(codes.Internal, "failed to list products")
	}

	result := make([]*storefrontv1.Product, 0, len(products))
	for _, product := range products {
		result = append(result, toProtoProduct(product))
	}
	return &storefrontv1.ListProductsResponse{Products: result}, nil
}

func (s *StorefrontService) identity(ctx context.Context) (domain.Identity, error) {
	if s.sessions == nil {
		return domain.Guest(), nil
	}
	return s.sessions.Resolve(readMetadata(ctx, auth.MetadataKey))
}

func (s *StorefrontService) logFailure(err error, operation, orderID string) {
	entry := s.logger.WithError(err).WithField("operation", operation)
	if orderID != "" {
		entry = entry.WithField("order_id", orderID)
	}
	if status.Code(toStatus(err)) == codes.Internal {
		entry.Error("storefront call failed")
		return
	}
	entry.Debug("storefront call rejected")
}

func readIdempotencyKey(ctx context.Context) string {
	return readMetadata(ctx, idempotencyKeyHeader)
}

func readMetadata(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(key); len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

func fromPlaceOrderRequest(req *storefrontv1.PlaceOrderRequest) domain.PlaceOrderRequest {
	items := make([]domain.CartLine, 0, len(req.Items))
	for _, line := range req.Items {
		if line == nil {
			items = append(items, domain.CartLine{})
			continue
		}
		items = append(items, domain.CartLine{ProductID: line.ProductId, Quantity: int(line.Quantity)})
	}
	return domain.PlaceOrderRequest{
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		Items:           items,
	}
}

func toProtoOrder(order domain.Order) *storefrontv1.Order {
	items := make([]*storefrontv1.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, &storefrontv1.OrderItem{
			ProductId: item.ProductID,
			Quantity:  int32(item.Quantity), //nolint:gosec // количество позиции ограничено складом.
			Price:     item.Price.StringFixed(2),
		})
	}

	var created int64
	if !order.CreatedAt.IsZero() {
		created = order.CreatedAt.Unix()
	}

	return &storefrontv1.Order{
		Id:              order.ID,
		CustomerId:      order.CustomerID,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		CustomerPhone:   order.CustomerPhone,
		ShippingAddress: order.ShippingAddress,
		Notes:           order.Notes,
		Status:          string(order.Status),
		Total:           order.Total.StringFixed(2),
		Items:           items,
		Version:         order.Version,
		CreatedUnix:     created,
	}
}

func toProtoProduct(product domain.Product) *storefrontv1.Product {
	return &storefrontv1.Product{
		Id:        product.ID,
		Title:     product.Title,
		Price:     product.Price.StringFixed(2),
		Inventory: int32(product.Inventory), //nolint:gosec // остаток склада помещается в int32.
		Published: product.Published,
	}
}
