package logger

import (
	"go.uber.org/zap"

	"github.com/troikatech/carecall/pkg/phone"
)

// MaskPhone creates a zap field that masks phone numbers
func MaskPhone(key, number string) zap.Field {
	return zap.String(key, phone.Mask(number))
}

// MaskPhoneIfPresent masks phone if not empty
func MaskPhoneIfPresent(key, number string) zap.Field {
	if number == "" {
		return zap.String(key, "")
	}
	return MaskPhone(key, number)
}
