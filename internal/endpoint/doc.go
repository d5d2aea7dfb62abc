// Package endpoint is the local matching side of the bridge.
//
// Local holds the market basis and cluster identity announced by the remote
// matcher and hands matched prices to the local matching logic. Throttle limits
// how often aggregated bids are offered upstream. Registry tracks which matching
// endpoints local dispatchers may route bids to.
package endpoint
