package formulas

// SharpeRatio returns expectedReturn / risk. A zero, negative or non-finite risk has no
// meaningful ratio and yields 0 so rankings stay comparable.
func SharpeRatio(expectedReturn, risk float64) float64 {
	if risk <= 0 || !IsFinite(risk) || !IsFinite(expectedReturn) {
		return 0
	}
	return expectedReturn / risk
}
