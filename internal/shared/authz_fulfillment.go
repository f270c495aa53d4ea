package shared

// Fulfillment permissions declared for RBAC.
const (
	PermInvoiceView = "invoice.view"

	PermDeliveryPropose = "delivery.propose"
	PermDeliverySubmit  = "delivery.submit"
	PermDeliveryView    = "delivery.view"
	PermDeliveryPost    = "delivery.post"
	PermDeliveryCancel  = "delivery.cancel"

	PermReceiptCreate = "receipt.create"
	PermReceiptView   = "receipt.view"
	PermReceiptPost   = "receipt.post"
	PermReceiptCancel = "receipt.cancel"
)

// DeliveryScopes lists all permissions related to delivery documents.
func DeliveryScopes() []string {
	return []string{
		PermDeliveryPropose,
		PermDeliverySubmit,
		PermDeliveryView,
		PermDeliveryPost,
		PermDeliveryCancel,
	}
}

// ReceiptScopes lists all permissions related to receipts.
func ReceiptScopes() []string {
	return []string{
		PermReceiptCreate,
		PermReceiptView,
		PermReceiptPost,
		PermReceiptCancel,
	}
}

// FulfillmentScopes returns every permission the service checks.
func FulfillmentScopes() []string {
	scopes := []string{PermInvoiceView}
	scopes = append(scopes, DeliveryScopes()...)
	return append(scopes, ReceiptScopes()...)
}
