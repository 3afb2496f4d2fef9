package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shawlshop/internal/domain"
	"github.com/vladislavdragonenkov/shawlshop/internal/service/idempotency"
)

type placeOrderResponse struct {
	OrderID string        `json:"orderId"`
	Total   string        `json:"total"`
	Dropped []droppedLine `json:"dropped,omitempty"`
}

type droppedLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

type orderItemDTO struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

type timelineDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type orderDTO struct {
	ID              string         `json:"id"`
	CustomerID      string         `json:"customerId,omitempty"`
	CustomerName    string         `json:"customerName"`
	CustomerEmail   string         `json:"customerEmail"`
	CustomerPhone   string         `json:"customerPhone,omitempty"`
	ShippingAddress string         `json:"shippingAddress"`
	Notes           string         `json:"notes,omitempty"`
	Status          string         `json:"status"`
	Total           string         `json:"total"`
	Version         int64          `json:"version"`
	Items           []orderItemDTO `json:"items"`
	Timeline        []timelineDTO  `json:"timeline,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type productDTO struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	Inventory int    `json:"inventory"`
	Published bool   `json:"published"`
}

type createProductRequest struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Inventory int             `json:"inventory"`
	Published bool            `json:"published"`
}

type adjustInventoryRequest struct {
	Delta int `json:"delta"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// placeOrder: POST /api/v1/orders. Без Idempotency-Key повтор создаёт новый заказ.
func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body is too large", nil)
		return
	}

	var req domain.PlaceOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Error(), []string{"malformed JSON body"})
		return
	}

	identity := identityFrom(r.Context())
	hash := idempotency.RequestHash(r.Method+" "+r.URL.Path+":"+identity.CustomerID, body)

	out, replayed, err := s.guard.Do(r.Context(), r.Header.Get(IdempotencyKeyHeader), hash, func(ctx context.Context) (idempotency.Outcome, error) {
		result, err := s.ledger.PlaceOrder(ctx, identity, req)
		if err != nil {
			if !domain.IsFinalRejection(err) {
				return idempotency.Outcome{}, err
			}
			code, resp := statusFor(err)
			data, _ := json.Marshal(resp)
			return idempotency.Outcome{Code: code, Body: data, Failed: true}, nil
		}

		resp := placeOrderResponse{OrderID: result.Order.ID, Total: result.Order.Total.StringFixed(2)}
		for _, d := range result.Dropped {
			resp.Dropped = append(resp.Dropped, droppedLine{ProductID: d.ProductID, Quantity: d.Quantity, Reason: d.Reason})
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return idempotency.Outcome{}, err
		}
		return idempotency.Outcome{Code: http.StatusCreated, Body: data}, nil
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	writeRaw(w, out.Code, out.Body)
}

// getOrder: GET /api/v1/orders/{id}: владелец или администратор.
func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	view, err := s.orders.GetOrder(r.Context(), identityFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(view.Order, view.Timeline))
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	list, err := s.orders.ListOrders(r.Context(), identityFrom(r.Context()), domain.OrderFilter{
		CustomerID: strings.TrimSpace(query.Get("customerId")),
		Status:     domain.OrderStatus(query.Get("status")),
		Limit:      limit,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result := make([]orderDTO, 0, len(list))
	for _, order := range list {
		result = append(result, toOrderDTO(order, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": result})
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := s.orders.UpdateStatus(r.Context(), identityFrom(r.Context()), mux.Vars(r)["id"], domain.OrderStatus(req.Status), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order, nil))
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	products, err := s.catalog.ListProducts(r.Context(), domain.ProductFilter{PublishedOnly: true, Limit: limit})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result := make([]productDTO, 0, len(products))
	for _, product := range products {
		result = append(result, toProductDTO(product))
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": result})
}

// getProduct отдаёт только опубликованные товары; черновик выглядит как отсутствующий.
func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.catalog.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err == nil && !product.Published && !identityFrom(r.Context()).IsAdmin() {
		err = domain.ErrProductNotFound
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(product))
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if !decodeBody(w, r, &req) {
		return
	}

	product, err := s.catalog.CreateProduct(r.Context(), domain.Product{
		ID:        req.ID,
		Title:     req.Title,
		Price:     req.Price,
		Inventory: req.Inventory,
		Published: req.Published,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(product))
}

func (s *Server) adjustInventory(w http.ResponseWriter, r *http.Request) {
	var req adjustInventoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	product, err := s.catalog.AdjustInventory(r.Context(), mux.Vars(r)["id"], req.Delta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(product))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body is too large", nil)
			return false
		}
		writeError(w, http.StatusBadRequest, domain.ErrValidation.Error(), []string{"malformed JSON body"})
		return false
	}
	return true
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}

func toOrderDTO(order domain.Order, events []domain.TimelineEvent) orderDTO {
	items := make([]orderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDTO{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price.StringFixed(2)})
	}

	var timeline []timelineDTO
	for _, event := range events {
		timeline = append(timeline, timelineDTO{Type: event.Type, Reason: event.Reason, Occurred: event.Occurred})
	}

	return orderDTO{
		ID:              order.ID,
		CustomerID:      order.CustomerID,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		CustomerPhone:   order.CustomerPhone,
		ShippingAddress: order.ShippingAddress,
		Notes:           order.Notes,
		Status:          string(order.Status),
		Total:           order.Total.StringFixed(2),
		Version:         order.Version,
		Items:           items,
		Timeline:        timeline,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func toProductDTO(product domain.Product) productDTO {
	return productDTO{
		ID:        product.ID,
		Title:     product.Title,
		Price:     product.Price.StringFixed(2),
		Inventory: product.Inventory,
		Published: product.Published,
	}
}
