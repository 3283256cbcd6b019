// utils/money.go
package utils

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var moneyPrinter = message.NewPrinter(language.English)

// FormatCents renders an integer cent amount as a grouped currency string,
// e.g. 1234567 -> "$12,345.67". Used in summaries and reports only; arithmetic
// stays on int64 cents everywhere.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return moneyPrinter.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// FormatCount renders a count with digit grouping for summary text.
func FormatCount(n int64) string {
	return moneyPrinter.Sprintf("%d", n)
}
