// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Bids sent, transmit failures, and bids reclaimed unpriced
//   - Prices matched and unmatched, and bid-to-price latency
//   - Session lifecycle and connect attempts
//   - Registration state and pending bid count
//   - Journal buffer depth and write failures
package metrics
