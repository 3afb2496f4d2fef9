package domain

import (
	"errors"
	"strings"
)

var (
	// ErrValidation: корневая ошибка некорректного запроса на оформление заказа.
	ErrValidation = errors.New("validation failed")
	// ErrOutOfStock: корневая бизнес-ошибка: в заказе не осталось доступных позиций.
	ErrOutOfStock = errors.New("out of stock")
	// ErrTransaction: непредвиденная ошибка в атомарной фазе записи заказа.
	ErrTransaction = errors.New("order transaction failed")

	// Ошибка отсутствующего имени покупателя.
	ErrCustomerNameRequired = errors.New("customerName is required")
	// Ошибка отсутствующего email покупателя.
	ErrCustomerEmailRequired = errors.New("customerEmail is required")
	// Ошибка некорректного формата email.
	ErrCustomerEmailInvalid = errors.New("customerEmail must be a valid email address")
	// Ошибка отсутствующего адреса доставки.
	ErrShippingAddressRequired = errors.New("shippingAddress is required")
	// Ошибка отсутствия хотя бы одной позиции в корзине.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка пустого идентификатора товара в позиции.
	ErrItemProductRequired = errors.New("item productId is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")

	// Ошибка отсутствующего названия товара.
	ErrProductTitleRequired = errors.New("product title is required")
	// Ошибка отрицательной цены товара.
	ErrProductPriceNegative = errors.New("product price must be non-negative")
	// Колонка price: NUMERIC(12, 2), лишние знаки после запятой отбрасываются.
	ErrProductPriceScale = errors.New("product price must have at most two decimal places")
	// Ошибка отрицательного остатка товара.
	ErrProductInventoryNegative = errors.New("product inventory must be non-negative")

	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductAlreadyExists: товар с таким ID уже есть в каталоге.
	ErrProductAlreadyExists = errors.New("product already exists")
	// ErrInsufficientStock: корректировка увела бы остаток в минус.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrStatusTransition: недопустимый переход статуса заказа.
	ErrStatusTransition = errors.New("order status transition is not allowed")
	// ErrStatusUnknown: статус не входит в перечисление.
	ErrStatusUnknown = errors.New("unknown order status")

	// ErrUnauthenticated: операция требует сессии.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden: у сессии нет прав на операцию.
	ErrForbidden = errors.New("access denied")

	// ErrIdempotencyKeyRequired: пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: не передан хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound: запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists: ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

const (
	// OutOfStockNoProducts: ни один товар из корзины не найден среди товаров в наличии.
	OutOfStockNoProducts = "no products in stock for this order"
	// OutOfStockAllDropped: после фильтрации позиций корзина оказалась пустой.
	OutOfStockAllDropped = "products are out of stock or were removed from the catalogue"
)

// ValidationError перечисляет все замечания к запросу.
type ValidationError struct {
	Problems []error
}

// NewValidationError собирает ValidationError; nil, если замечаний нет.
func NewValidationError(problems []error) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + strings.Join(e.Details(), "; ")
}

// Details возвращает сообщения замечаний для клиента.
func (e *ValidationError) Details() []string {
	details := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		details = append(details, p.Error())
	}
	return details
}

func (e *ValidationError) Unwrap() []error {
	return append([]error{ErrValidation}, e.Problems...)
}

// OutOfStockError: бизнес-отказ с человекочитаемым сообщением.
type OutOfStockError struct {
	Message string
}

func (e *OutOfStockError) Error() string {
	return e.Message
}

func (e *OutOfStockError) Unwrap() error {
	return ErrOutOfStock
}

// TransactionError оборачивает причину сбоя атомарной фазы.
type TransactionError struct {
	Err error
}

func (e *TransactionError) Error() string {
	if e.Err == nil {
		return ErrTransaction.Error()
	}
	return ErrTransaction.Error() + ": " + e.Err.Error()
}

func (e *TransactionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransaction}
	}
	return []error{ErrTransaction, e.Err}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsFinalRejection сообщает, что отказ в оформлении не изменится при повторе
// того же запроса: ошибка валидации или нехватка товара. Сбой транзакции
// и прочие ошибки можно повторять.
func IsFinalRejection(err error) bool {
	var validationErr *ValidationError
	var outOfStockErr *OutOfStockError
	return errors.As(err, &validationErr) || errors.As(err, &outOfStockErr)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
