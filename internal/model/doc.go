// Package model defines the matching data types shared across the bridge.
//
// Conventions:
//   - Prices and market basis bounds: decimal.Decimal, never float64
//   - Demand: float64 per price step, non-increasing with price
//   - Sequence numbers: int64, assigned by the bridge starting at 1
package model
