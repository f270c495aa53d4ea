package fulfillment

import "time"

// GenerateDocuments turns a validated allocation into one Draft delivery
// document per warehouse that carries at least one positive line. Documents
// follow the partition order and keep the invoice line reference of every
// line.
func GenerateDocuments(validated ValidatedAllocation, invoiceID int64, date time.Time) []DeliveryDocument {
	docs := make([]DeliveryDocument, 0, len(validated.Partitions))
	for _, partition := range validated.Partitions {
		var lines []DeliveryLine
		for _, line := range partition.Lines {
			if !line.Quantity.IsPositive() {
				continue
			}
			lines = append(lines, DeliveryLine{
				InvoiceLineID: line.InvoiceLineID,
				ProductID:     line.ProductID,
				Quantity:      line.Quantity,
			})
		}
		if len(lines) == 0 {
			continue
		}
		docs = append(docs, DeliveryDocument{
			InvoiceID:   invoiceID,
			WarehouseID: partition.WarehouseID,
			Date:        date,
			Status:      DocumentDraft,
			Lines:       lines,
		})
	}
	return docs
}
