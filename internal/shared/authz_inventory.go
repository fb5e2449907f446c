package shared

// Parts inventory and part order permissions.
const (
	PermInventoryView   = "ver_inventario"
	PermInventoryManage = "gestionar_inventario"
	PermOrdersView      = "ver_pedidos"
	PermPartsRequest    = "solicitar_piezas"
	PermOrdersApprove   = "aprobar_pedidos"
)

// InventoryScopes lists the inventory and order permissions.
func InventoryScopes() []string {
	return []string{
		PermInventoryView,
		PermInventoryManage,
		PermOrdersView,
		PermPartsRequest,
		PermOrdersApprove,
	}
}
