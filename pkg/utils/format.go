// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
)

// FormatCurrency formats a dollar amount with thousands separators.
func FormatCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")
	intPart := parts[0]
	decPart := parts[1]

	result := "$" + groupThousands(intPart) + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts a comma every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]

	for len(s) > 0 {
		if len(s) >= 3 {
			result = s[len(s)-3:] + "," + result
			s = s[:len(s)-3]
		} else {
			result = s + "," + result
			s = ""
		}
	}

	return result
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatGainLoss formats a gain/loss amount with its percentage, e.g.
// "+$20.00 (+20.00%)".
func FormatGainLoss(amount, percent float64) string {
	formatted := FormatCurrency(amount)
	if amount > 0 {
		formatted = "+" + formatted
	}
	return fmt.Sprintf("%s (%s)", formatted, FormatPercent(percent))
}

// FormatShares formats a share count, trimming trailing zeros for
// fractional crypto quantities.
func FormatShares(shares float64) string {
	if shares == float64(int64(shares)) {
		return fmt.Sprintf("%d", int64(shares))
	}
	return strings.TrimRight(fmt.Sprintf("%.8f", shares), "0")
}
