package redisx

import "time"

const (
	// Cache of an order's current status: order_status:{order_id} -> status
	KeyOrderStatus = "order_status:%s"

	// Cached per-status order counts for the stats page.
	KeyStatsSummary = "stats:summary"
)

var (
	TTLStatusCache  = 5 * time.Minute
	TTLStatsSummary = time.Minute
)
