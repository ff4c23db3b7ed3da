package writer

import "github.com/shopspring/decimal"

// formatAdaptive renders v round-trippably with no trailing zeros, matching
// the original implementation's format_double (adaptive precision, no
// trailing zeros) now expressed over decimal.Decimal rather than a float.
func formatAdaptive(v decimal.Decimal) string {
	return v.String()
}
