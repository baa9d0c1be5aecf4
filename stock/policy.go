/*
policy.go - Batch consumption ordering

PURPOSE:
  When a withdrawal must be satisfied from multiple batches, the
  consumption policy decides which batches deplete first. The policy is a
  configuration choice on the Engine, not hardcoded behavior.

POLICIES:
  PolicyFIFO:          oldest ReceivedAt first (default). Standard rotation.
  PolicyLowestQuality: lowest quality grade first, ties broken by age.
                       Clears perishable/lower-grade stock before it spoils.

Both orders are total and deterministic (final tie-break on BatchID), so a
given stock state always yields the same allocation plan.
*/
package stock

import "sort"

// ConsumptionPolicy selects the order in which batches are depleted.
type ConsumptionPolicy string

const (
	PolicyFIFO          ConsumptionPolicy = "fifo"
	PolicyLowestQuality ConsumptionPolicy = "lowest_quality"
)

// SortBatches orders batches in consumption order for the given policy.
// The slice is sorted in place.
func SortBatches(batches []StockBatch, policy ConsumptionPolicy) {
	sort.Slice(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if policy == PolicyLowestQuality && a.Quality != b.Quality {
			return a.Quality < b.Quality
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}
