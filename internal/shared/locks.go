package shared

import "fmt"

// InvoiceSubmissionLockKey builds the redis key guarding delivery submission
// for an invoice.
func InvoiceSubmissionLockKey(invoiceID int64) string {
	return fmt.Sprintf("fulfillment:invoice:%d:submit", invoiceID)
}

// ProposalKey builds the redis key of a stored allocation proposal.
func ProposalKey(invoiceID int64, proposalID string) string {
	return fmt.Sprintf("fulfillment:invoice:%d:proposal:%s", invoiceID, proposalID)
}

// DerivedStatusKey builds the redis key holding the last derived status seen
// by the refresh job.
func DerivedStatusKey(invoiceID int64) string {
	return fmt.Sprintf("fulfillment:invoice:%d:status", invoiceID)
}
