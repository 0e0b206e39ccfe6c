// @acp:module orders - Order intake and totals
// @acp:domain commerce - Order lifecycle core
// @acp:purpose - Validates and prices incoming orders
// @acp:lock tests-required
// @acp:lock-reason Pricing regressions are expensive to roll back
package orders

// TaxRate applies to every order subtotal.
// @acp:ref docs/pricing.md
const TaxRate = 0.19

// @acp:purpose - Validates and stores one order
// @acp:critical - Order loss here is unrecoverable
func Place() {
	record()
}

// @acp:purpose - Sums the open order book
func Total() float64 {
	return TaxRate
}

// @acp:todo ticket=CHK-41 - Move persistence behind an interface
func record() {}
