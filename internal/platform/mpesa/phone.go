package mpesa

import (
	"strings"

	"github.com/mpesa-token-bridge/internal/domain/payment"
)

// NormalizePhone converts local and international Safaricom formats to 2547XXXXXXXX / 2541XXXXXXXX
func NormalizePhone(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '+', '(', ')':
			return -1
		}
		return r
	}, raw)

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "254"):
		digits = digits[3:]
	case len(digits) == 10 && digits[0] == '0':
		digits = digits[1:]
	case len(digits) == 9:
	default:
		return "", invalidPhone(raw)
	}

	if digits[0] != '7' && digits[0] != '1' {
		return "", invalidPhone(raw)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", invalidPhone(raw)
		}
	}

	return "254" + digits, nil
}

func invalidPhone(raw string) error {
	return payment.GatewayRejectedError{Code: "invalid_phone", Message: "invalid phone number: " + raw}
}
