package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ordena-app/backend/internal/orders"
	"github.com/ordena-app/backend/internal/redisx"
)

type StatsStore interface {
	StatusCounts(ctx context.Context) (map[orders.Status]int, error)
	ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.OrderDetail, error)
}

type StatsHandler struct {
	Store StatsStore
	Redis *redis.Client // optional summary cache
}

func (h *StatsHandler) Register(r chi.Router) {
	r.Get("/stats", h.stats)
}

func (h *StatsHandler) stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	summary, err := h.summary(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	f := orders.OrderFilter{
		CustomerName:     q.Get("customer"),
		CustomerDocument: q.Get("document"),
		ProductName:      q.Get("product"),
		IncludeCancelled: true,
	}
	if s := q.Get("status"); s != "" {
		st, err := orders.ParseStatus(s)
		if err != nil {
			writeError(w, err)
			return
		}
		f.Status = &st
	}

	list, err := h.Store.ListOrders(ctx, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "orders": list})
}

func (h *StatsHandler) summary(ctx context.Context) (map[orders.Status]int, error) {
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, redisx.KeyStatsSummary).Result(); err == nil && s != "" {
			var cached map[orders.Status]int
			if json.Unmarshal([]byte(s), &cached) == nil {
				return cached, nil
			}
		}
	}

	counts, err := h.Store.StatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	if h.Redis != nil {
		if b, err := json.Marshal(counts); err == nil {
			_ = h.Redis.Set(ctx, redisx.KeyStatsSummary, b, redisx.TTLStatsSummary).Err()
		}
	}
	return counts, nil
}
