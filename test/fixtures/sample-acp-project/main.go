// @acp:module app - Application entry point
// @acp:purpose - Boots checkout and wires the order pipeline
// @acp:layer service
// @acp:owner platform-team
package main

import "example.com/checkout/orders"

// @acp:purpose - Runs one pricing pass over the open order book
func main() {
	orders.Place()
	orders.Total()
}
