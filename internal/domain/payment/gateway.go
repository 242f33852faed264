package payment

// InitiationResult is the provider's synchronous answer to an STK push.
// Accepted only means the prompt was queued on the payer's device.
type InitiationResult struct {
	RequestID         string
	MerchantRequestID string
	Accepted          bool
	ProviderMessage   string
	CustomerMessage   string
}

// SettlementStatus is one observation of a payment's settlement
type SettlementStatus struct {
	Settled           bool
	Success           bool
	ResultCode        int
	ResultDescription string
	ReceiptID         string // Only delivered through the asynchronous callback
}

// Update converts a settled observation into a store update
func (s *SettlementStatus) Update() StatusUpdate {
	return NewSettlementUpdate(s.ResultCode, s.ResultDescription, s.ReceiptID)
}

// TransferReceipt is returned by the ledger once a transfer is confirmed
type TransferReceipt struct {
	ReceiptID string
}
