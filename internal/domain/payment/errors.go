package payment

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidRequest = errors.New("invalid payment request")

	// ErrGatewayUnavailable is transient: network, auth or provider-side outage
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected request")

	ErrSettlementFailed   = errors.New("payment settlement failed")
	ErrSettlementTimeout  = errors.New("payment settlement timed out")
	ErrTransferFailed     = errors.New("value transfer failed")
	ErrNotificationFailed = errors.New("notification failed")
)

// GatewayRejectedError carries the provider's synchronous decline
type GatewayRejectedError struct {
	Code    string
	Message string
}

func (e GatewayRejectedError) Error() string {
	if e.Code == "" {
		return "payment gateway rejected request: " + e.Message
	}
	return fmt.Sprintf("payment gateway rejected request (%s): %s", e.Code, e.Message)
}

// Is implements the errors.Is interface so callers can match on ErrGatewayRejected
func (e GatewayRejectedError) Is(target error) bool {
	if target == ErrGatewayRejected {
		return true
	}
	t, ok := target.(GatewayRejectedError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// SettlementFailedError carries the provider-reported failure of a settled payment
type SettlementFailedError struct {
	ResultCode        int
	ResultDescription string
}

func (e SettlementFailedError) Error() string {
	return fmt.Sprintf("payment settlement failed (%d): %s", e.ResultCode, e.ResultDescription)
}

func (e SettlementFailedError) Is(target error) bool {
	return target == ErrSettlementFailed
}

// TransferFailedError reports why the ledger refused or lost a transfer
type TransferFailedError struct {
	Reason string
}

func (e TransferFailedError) Error() string {
	return "value transfer failed: " + e.Reason
}

func (e TransferFailedError) Is(target error) bool {
	return target == ErrTransferFailed
}
