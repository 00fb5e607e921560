package domain

// Role — роль вызывающего.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleBusinessOwner Role = "business_owner"
	RoleStaff         Role = "staff"
	RoleAdmin         Role = "admin"
	RoleSuperAdmin    Role = "super_admin"
)

// IsAdmin сообщает, что вызывающий администратор платформы и видит все магазины.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Caller описывает аутентифицированного вызывающего.
type Caller struct {
	UserID     string
	Role       Role
	Businesses []string
}

// MemberOf проверяет членство в магазине.
func (c Caller) MemberOf(businessID string) bool {
	if businessID == "" {
		return false
	}
	for _, b := range c.Businesses {
		if b == businessID {
			return true
		}
	}
	return false
}

// Action называет операцию для проверки в Authorizer.
type Action string

const (
	ActionCreateOrder    Action = "order.create"
	ActionViewOrder      Action = "order.view"
	ActionListOrders     Action = "order.list"
	ActionTrackOrder     Action = "order.track"
	ActionUpdateStatus   Action = "order.update_status"
	ActionCapturePayment Action = "order.capture_payment"
	ActionRefund         Action = "order.refund"
	ActionViewAnalytics  Action = "business.analytics"
)

// Resource описывает объект проверки: магазин и, если есть, владелец-покупатель.
type Resource struct {
	BusinessID string
	CustomerID string
}

// Authorizer проверяет права для всех операций заказа.
type Authorizer interface {
	Authorize(caller Caller, action Action, resource Resource) bool
}
