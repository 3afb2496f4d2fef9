// Package storefrontv1 описывает gRPC API витрины: оформление и чтение
// заказов, админскую смену статусов и каталог.
package storefrontv1

// CartLine: позиция корзины.
type CartLine struct {
	ProductId string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type PlaceOrderRequest struct {
	CustomerName    string      `json:"customer_name"`
	CustomerEmail   string      `json:"customer_email"`
	CustomerPhone   string      `json:"customer_phone,omitempty"`
	ShippingAddress string      `json:"shipping_address"`
	Notes           string      `json:"notes,omitempty"`
	Items           []*CartLine `json:"items"`
}

// DroppedLine: позиция, не попавшая в заказ, и причина.
type DroppedLine struct {
	ProductId string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Reason    string `json:"reason"`
}

type PlaceOrderResponse struct {
	OrderId string         `json:"order_id"`
	Order   *Order         `json:"order,omitempty"`
	Dropped []*DroppedLine `json:"dropped,omitempty"`
}

type GetOrderRequest struct {
	OrderId string `json:"order_id"`
}

type GetOrderResponse struct {
	Order    *Order           `json:"order"`
	Timeline []*TimelineEvent `json:"timeline,omitempty"`
}

type ListOrdersRequest struct {
	CustomerId string `json:"customer_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Limit      int32  `json:"limit,omitempty"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

type UpdateOrderStatusRequest struct {
	OrderId string `json:"order_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type UpdateOrderStatusResponse struct {
	Order *Order `json:"order"`
}

type ListProductsRequest struct {
	Limit int32 `json:"limit,omitempty"`
}

type ListProductsResponse struct {
	Products []*Product `json:"products"`
}

// Order: заказ. Денежные суммы передаются десятичной строкой ("150.00").
type Order struct {
	Id              string       `json:"id"`
	CustomerId      string       `json:"customer_id,omitempty"`
	CustomerName    string       `json:"customer_name"`
	CustomerEmail   string       `json:"customer_email"`
	CustomerPhone   string       `json:"customer_phone,omitempty"`
	ShippingAddress string       `json:"shipping_address"`
	Notes           string       `json:"notes,omitempty"`
	Status          string       `json:"status"`
	Total           string       `json:"total"`
	Items           []*OrderItem `json:"items"`
	Version         int64        `json:"version"`
	CreatedUnix     int64        `json:"created_unix"`
}

type OrderItem struct {
	ProductId string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Price     string `json:"price"`
}

type Product struct {
	Id        string `json:"id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	Inventory int32  `json:"inventory"`
	Published bool   `json:"published"`
}

type TimelineEvent struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	UnixTime int64  `json:"unix_time"`
}
