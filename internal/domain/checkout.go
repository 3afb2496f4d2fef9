package domain

import (
	"fmt"
	"net/mail"
	"strings"
)

// CartLine: позиция корзины, присланная клиентом.
type CartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// PlaceOrderRequest: запрос на оформление заказа из формы checkout.
type PlaceOrderRequest struct {
	CustomerName    string     `json:"customerName"`
	CustomerEmail   string     `json:"customerEmail"`
	CustomerPhone   string     `json:"customerPhone,omitempty"`
	ShippingAddress string     `json:"shippingAddress"`
	Notes           string     `json:"notes,omitempty"`
	Items           []CartLine `json:"items"`
}

// Normalize убирает пробелы по краям строковых полей.
func (r PlaceOrderRequest) Normalize() PlaceOrderRequest {
	r.CustomerName = strings.TrimSpace(r.CustomerName)
	r.CustomerEmail = strings.TrimSpace(r.CustomerEmail)
	r.CustomerPhone = strings.TrimSpace(r.CustomerPhone)
	r.ShippingAddress = strings.TrimSpace(r.ShippingAddress)
	r.Notes = strings.TrimSpace(r.Notes)

	items := make([]CartLine, len(r.Items))
	for i, line := range r.Items {
		line.ProductID = strings.TrimSpace(line.ProductID)
		items[i] = line
	}
	r.Items = items
	return r
}

// Validate проверяет форму запроса целиком и возвращает *ValidationError
// со всеми замечаниями либо nil.
func (r PlaceOrderRequest) Validate() error {
	var problems []error

	if r.CustomerName == "" {
		problems = append(problems, ErrCustomerNameRequired)
	}
	switch {
	case r.CustomerEmail == "":
		problems = append(problems, ErrCustomerEmailRequired)
	case !validEmail(r.CustomerEmail):
		problems = append(problems, ErrCustomerEmailInvalid)
	}
	if r.ShippingAddress == "" {
		problems = append(problems, ErrShippingAddressRequired)
	}
	if len(r.Items) == 0 {
		problems = append(problems, ErrItemsRequired)
	}
	for idx, line := range r.Items {
		if line.ProductID == "" {
			problems = append(problems, fmt.Errorf("items[%d]: %w", idx, ErrItemProductRequired))
		}
		if line.Quantity <= 0 {
			problems = append(problems, fmt.Errorf("items[%d]: %w", idx, ErrItemQtyInvalid))
		}
	}

	return NewValidationError(problems)
}

// ProductIDs возвращает уникальные идентификаторы товаров в порядке корзины.
func (r PlaceOrderRequest) ProductIDs() []string {
	seen := make(map[string]struct{}, len(r.Items))
	ids := make([]string, 0, len(r.Items))
	for _, line := range r.Items {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

func validEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return false
	}
	// ParseAddress принимает и "Имя <addr>", нам нужен голый адрес.
	if addr.Address != value {
		return false
	}
	at := strings.LastIndex(value, "@")
	return at > 0 && strings.Contains(value[at+1:], ".")
}
