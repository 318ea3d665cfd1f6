package rbac

// Permission codes checked by the HTTP layer.
const (
	PermViewItem              = "inventory.view_item"
	PermAddItem               = "inventory.add_item"
	PermChangeItem            = "inventory.change_item"
	PermViewStock             = "inventory.view_stock"
	PermAddMovement           = "inventory.add_movement"
	PermAddSale               = "inventory.add_sale"
	PermChangeSale            = "inventory.change_sale"
	PermViewPurchaseOrders    = "inventory.view_purchase_orders"
	PermAddPurchaseOrder      = "inventory.add_purchase_order"
	PermReceivePurchaseOrders = "inventory.receive_purchase_orders"
	PermAddPayment            = "finance.add_payment"
	PermViewShops             = "shops.view_shop"
	PermChangeShop            = "shops.change_shop"
)

// Role codes.
const (
	RoleAdmin      = "admin"
	RoleDirector   = "director"
	RoleManager    = "manager"
	RoleTechnician = "technician"
	RoleCashier    = "cashier"
)

// Role is a named permission grouping.
type Role struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

func allPermissions() []string {
	return []string{
		PermViewItem, PermAddItem, PermChangeItem, PermViewStock, PermAddMovement,
		PermAddSale, PermChangeSale, PermViewPurchaseOrders, PermAddPurchaseOrder,
		PermReceivePurchaseOrders, PermAddPayment, PermViewShops, PermChangeShop,
	}
}

// DefaultRoles is the built-in role catalog.
func DefaultRoles() []Role {
	return []Role{
		{Code: RoleAdmin, Name: "Administrator", Permissions: allPermissions()},
		{Code: RoleDirector, Name: "Director", Permissions: allPermissions()},
		{Code: RoleManager, Name: "Manager", Permissions: []string{
			PermViewItem, PermAddItem, PermChangeItem, PermViewStock, PermAddMovement,
			PermAddSale, PermChangeSale, PermViewPurchaseOrders, PermAddPurchaseOrder,
			PermReceivePurchaseOrders, PermAddPayment, PermViewShops,
		}},
		{Code: RoleTechnician, Name: "Technician", Permissions: []string{
			PermViewItem, PermViewStock, PermAddMovement,
		}},
		{Code: RoleCashier, Name: "Cashier", Permissions: []string{
			PermViewItem, PermViewStock, PermAddSale, PermChangeSale, PermAddPayment,
		}},
	}
}
