package domain

// Role: роль владельца сессии.
type Role string

const (
	RoleGuest    Role = "guest"
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Valid проверяет роль, которую можно выдать в сессии.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// Identity: кто оформляет или читает заказ. Нулевое значение означает гостя.
type Identity struct {
	CustomerID string
	Role       Role
}

// Guest возвращает анонимную личность для гостевого checkout.
func Guest() Identity {
	return Identity{Role: RoleGuest}
}

// IsGuest сообщает, что покупатель не вошёл в систему.
func (i Identity) IsGuest() bool {
	return i.CustomerID == "" || !i.Role.Valid()
}

// IsAdmin сообщает, что сессия принадлежит администратору.
func (i Identity) IsAdmin() bool {
	return !i.IsGuest() && i.Role == RoleAdmin
}

// CanRead проверяет доступ к заказу: свой заказ или роль администратора.
func (i Identity) CanRead(order Order) bool {
	if i.IsAdmin() {
		return true
	}
	return !i.IsGuest() && order.CustomerID != "" && order.CustomerID == i.CustomerID
}
