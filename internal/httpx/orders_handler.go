package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	kafkax "github.com/ordena-app/backend/internal/kafka"
	"github.com/ordena-app/backend/internal/orders"
	"github.com/ordena-app/backend/internal/redisx"
)

// EventPublisher is the slice of the kafka producer the handlers need.
type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type OrderWorkflow interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (orders.CreateOrderResult, error)
	SetStatus(ctx context.Context, orderID string, target orders.Status) (status orders.Status, changed bool, err error)
}

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (orders.OrderDetail, error)
	ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.OrderDetail, error)
	OrderStatus(ctx context.Context, orderID string) (orders.Status, error)
}

type OrdersHandler struct {
	Workflow      OrderWorkflow
	Reader        OrderReader
	CreatedEvents EventPublisher
	StatusEvents  EventPublisher
	Redis         *redis.Client // optional status cache
	ServiceName   string
}

type orderLineRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type createOrderRequest struct {
	CustomerID string             `json:"customer_id"`
	Lines      []orderLineRequest `json:"lines"`
}

type createOrderResponse struct {
	OrderID string          `json:"order_id"`
	Total   decimal.Decimal `json:"total"`
	Status  orders.Status   `json:"status"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Put("/orders/{id}/status", h.setOrderStatus)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	in := orders.CreateOrderInput{CustomerID: req.CustomerID}
	for _, ln := range req.Lines {
		in.Lines = append(in.Lines, orders.LineInput{
			ProductID: ln.ProductID,
			Quantity:  ln.Quantity,
			UnitPrice: ln.UnitPrice,
		})
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Workflow.CreateOrder(ctx, in)
	if err != nil {
		writeError(w, err)
		return
	}

	h.cacheStatus(ctx, res.OrderID, orders.StatusPending)

	lines := make([]orders.LineQty, 0, len(req.Lines))
	for _, ln := range req.Lines {
		lines = append(lines, orders.LineQty{ProductID: ln.ProductID, Quantity: ln.Quantity})
	}
	h.publish(h.CreatedEvents, orders.EventOrderCreated, res.OrderID, r, orders.OrderCreatedPayload{
		OrderID:    res.OrderID,
		CustomerID: req.CustomerID,
		Lines:      lines,
		Total:      res.Total.String(),
	})

	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID: res.OrderID,
		Total:   res.Total,
		Status:  orders.StatusPending,
	})
}

func (h *OrdersHandler) setOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	target, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, changed, err := h.Workflow.SetStatus(ctx, orderID, target)
	if err != nil {
		writeError(w, err)
		return
	}

	h.cacheStatus(ctx, orderID, status)
	if changed {
		h.publish(h.StatusEvents, orders.EventOrderStatusChanged, orderID, r, orders.OrderStatusChangedPayload{
			OrderID: orderID,
			Status:  status,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "status": status})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	d, err := h.Reader.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, map[string]string{"status": s})
			return
		}
	}

	status, err := h.Reader.OrderStatus(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheStatus(ctx, orderID, status)
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.OrderFilter{
		CustomerName:     q.Get("customer"),
		CustomerDocument: q.Get("document"),
		ProductName:      q.Get("product"),
	}
	if s := q.Get("status"); s != "" {
		st, err := orders.ParseStatus(s)
		if err != nil {
			writeError(w, err)
			return
		}
		f.Status = &st
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Reader.ListOrders(ctx, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(list), "orders": list})
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, orderID string, status orders.Status) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, key, string(status), redisx.TTLStatusCache).Err()
}

func (h *OrdersHandler) publish(p EventPublisher, eventType, orderID string, r *http.Request, payload any) {
	if p == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.ServiceName,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
