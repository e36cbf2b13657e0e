package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

var minorUnits = map[string]int32{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0, "UGX": 0,
	"BHD": 3, "KWD": 3, "JOD": 3, "OMR": 3, "TND": 3,
}

// MinorUnits returns the number of decimal places used by currency (2 when unknown).
func MinorUnits(currency string) int32 {
	if n, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return n
	}
	return 2
}

// RoundAmount rounds amount to the minor unit of currency.
func RoundAmount(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(MinorUnits(currency))
}

// AmountsEqual compares two amounts at the precision of currency.
func AmountsEqual(a, b decimal.Decimal, currency string) bool {
	return RoundAmount(a, currency).Equal(RoundAmount(b, currency))
}
