package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product: товар каталога. Склад меняется только через ленту заказов
// и админские корректировки.
type Product struct {
	ID        string
	Title     string
	Price     decimal.Decimal
	Inventory int
	Published bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InStock сообщает, что товар можно продать хотя бы в одном экземпляре.
func (p Product) InStock() bool {
	return p.Inventory > 0
}

// Validate проверяет поля товара перед сохранением.
func (p *Product) Validate() []error {
	var errs []error

	if strings.TrimSpace(p.Title) == "" {
		errs = append(errs, ErrProductTitleRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrProductPriceNegative)
	}
	if !p.Price.Equal(p.Price.Round(2)) {
		errs = append(errs, ErrProductPriceScale)
	}
	if p.Inventory < 0 {
		errs = append(errs, ErrProductInventoryNegative)
	}

	return errs
}

// ProductFilter задаёт выборку каталога.
type ProductFilter struct {
	PublishedOnly bool
	Limit         int
}
