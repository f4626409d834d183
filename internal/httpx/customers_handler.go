package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ordena-app/backend/internal/orders"
)

type CustomerStore interface {
	CreateCustomer(ctx context.Context, firstName, lastName, document string) (orders.Customer, error)
	ListCustomers(ctx context.Context, onlyActive bool) ([]orders.Customer, error)
}

type CustomersHandler struct {
	Store CustomerStore
}

type createCustomerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Document  string `json:"document"`
}

func (h *CustomersHandler) Register(r chi.Router) {
	r.Get("/customers", h.list)
	r.Post("/customers", h.create)
}

func (h *CustomersHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.FirstName == "" || req.LastName == "" || req.Document == "" {
		writeError(w, &orders.ValidationError{Field: "customer", Reason: "first_name, last_name and document are required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := h.Store.CreateCustomer(ctx, req.FirstName, req.LastName, req.Document)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CustomersHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	cs, err := h.Store.ListCustomers(ctx, r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}
