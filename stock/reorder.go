package stock

// ReorderThreshold is the per-(location, item) restock configuration the
// low-stock and auto-reorder watchers read.
type ReorderThreshold struct {
	Location LocationID
	Item     ItemID

	// Threshold is the on-hand quantity at or below which the pair is
	// considered in breach.
	Threshold Quantity

	// AutoReorder enables the daily auto-reorder watcher for this pair.
	AutoReorder bool

	// ReorderQty is the replenishment request size when auto-reorder fires.
	ReorderQty Quantity
}

// Breached reports whether the given on-hand quantity is at or below the
// threshold.
func (t ReorderThreshold) Breached(onHand Quantity) bool {
	return !onHand.GreaterThan(t.Threshold)
}
