package mpesa

import (
	"errors"
	"strconv"
)

// CallbackEnvelope is the body Daraja posts to the STK callback URL
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// StkCallback carries the settlement result of one push
type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata is only present on successful payments
type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem values are JSON numbers or strings depending on the name
type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// CallbackResult is the flattened settlement carried by a callback
type CallbackResult struct {
	RequestID         string
	ResultCode        int
	ResultDescription string
	ReceiptID         string
	Amount            int64
	PhoneNumber       string
}

var ErrMissingRequestID = errors.New("callback carries no CheckoutRequestID")

// Result flattens the envelope and extracts receipt, amount and phone from the metadata items
func (e *CallbackEnvelope) Result() (*CallbackResult, error) {
	cb := e.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, ErrMissingRequestID
	}

	result := &CallbackResult{
		RequestID:         cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDescription: cb.ResultDesc,
	}
	if cb.CallbackMetadata == nil {
		return result, nil
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			result.ReceiptID = itemString(item.Value)
		case "Amount":
			if f, ok := item.Value.(float64); ok {
				result.Amount = int64(f)
			}
		case "PhoneNumber":
			result.PhoneNumber = itemString(item.Value)
		}
	}
	return result, nil
}

func itemString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return ""
}
