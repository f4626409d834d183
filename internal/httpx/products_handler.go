package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ordena-app/backend/internal/orders"
)

type ProductStore interface {
	ListProducts(ctx context.Context, onlyAvailable bool) ([]orders.Product, error)
	IntakeProduct(ctx context.Context, in orders.ProductIntake) (id string, created bool, err error)
	InventoryReport(ctx context.Context) (orders.InventoryReport, error)
}

type ProductsHandler struct {
	Store ProductStore
}

type intakeRequest struct {
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.intake)
	r.Get("/inventory", h.inventory)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx, r.URL.Query().Get("available") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *ProductsHandler) intake(w http.ResponseWriter, r *http.Request) {
	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Name == "" {
		writeError(w, &orders.ValidationError{Field: "name", Reason: "is required"})
		return
	}
	if !req.UnitPrice.IsPositive() {
		writeError(w, &orders.ValidationError{Field: "unit_price", Reason: "must be positive"})
		return
	}
	if req.Quantity < 0 {
		writeError(w, &orders.ValidationError{Field: "quantity", Reason: "must not be negative"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id, created, err := h.Store.IntakeProduct(ctx, orders.ProductIntake{
		Name:      req.Name,
		Category:  req.Category,
		UnitPrice: req.UnitPrice,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{"id": id, "created": created})
}

func (h *ProductsHandler) inventory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rep, err := h.Store.InventoryReport(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
