// Package auth содержит проверку прав и разбор JWT вызывающего.
package auth

import "github.com/vladislavdragonenkov/settlement/internal/domain"

// RoleAuthorizer реализует ролевую модель доступа к заказам.
//
// Администраторы платформы имеют доступ ко всему. Владелец и сотрудники магазина
// управляют заказами своего магазина. Покупатель видит только свои заказы.
type RoleAuthorizer struct{}

// NewRoleAuthorizer создаёт авторизатор.
func NewRoleAuthorizer() *RoleAuthorizer {
	return &RoleAuthorizer{}
}

// Authorize реализует domain.Authorizer.
func (RoleAuthorizer) Authorize(caller domain.Caller, action domain.Action, resource domain.Resource) bool {
	if caller.UserID == "" {
		return false
	}
	if caller.Role.IsAdmin() {
		return true
	}

	switch action {
	case domain.ActionCreateOrder:
		return true
	case domain.ActionViewOrder, domain.ActionTrackOrder, domain.ActionCapturePayment:
		return isOwner(caller, resource) || isStaffOf(caller, resource.BusinessID)
	case domain.ActionListOrders:
		if resource.BusinessID != "" {
			return isStaffOf(caller, resource.BusinessID)
		}
		return isOwner(caller, resource)
	case domain.ActionUpdateStatus, domain.ActionRefund, domain.ActionViewAnalytics:
		return isStaffOf(caller, resource.BusinessID)
	default:
		return false
	}
}

func isOwner(caller domain.Caller, resource domain.Resource) bool {
	return resource.CustomerID != "" && resource.CustomerID == caller.UserID
}

func isStaffOf(caller domain.Caller, businessID string) bool {
	if caller.Role != domain.RoleBusinessOwner && caller.Role != domain.RoleStaff {
		return false
	}
	return caller.MemberOf(businessID)
}

var _ domain.Authorizer = (*RoleAuthorizer)(nil)
