package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Orders created successfully.",
	})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Committed order status transitions, by target status.",
	}, []string{"status"})

	StockRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_insufficient_total",
		Help: "Operations rejected because requested quantity exceeded stock on hand.",
	})
)
