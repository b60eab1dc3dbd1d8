package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pos-sync-service/internal/store"
)

type transactionRequest struct {
	ID            string           `json:"id"`
	StoreID       string           `json:"store_id"`
	CustomerID    *string          `json:"customer_id"`
	Items         []store.LineItem `json:"items"`
	PaymentMethod string           `json:"payment_method"`
	Subtotal      int64            `json:"subtotal"`
	Tax           int64            `json:"tax"`
	Discount      int64            `json:"discount"`
	Total         int64            `json:"total"`
	ReceiptNumber string           `json:"receipt_number"`
	CapturedAt    *time.Time       `json:"captured_at"`
}

// CreateTransaction commits a sale locally. The response never waits for
// the remote store; a resubmitted id is answered as a success.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "a transaction needs at least one item")
		return
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 || strings.TrimSpace(it.ProductID) == "" {
			writeError(w, http.StatusBadRequest, "every item needs a product_id and a positive quantity")
			return
		}
	}

	tx := &store.PendingTransaction{
		ID:            req.ID,
		StoreID:       req.StoreID,
		CustomerID:    req.CustomerID,
		Items:         req.Items,
		PaymentMethod: req.PaymentMethod,
		Subtotal:      req.Subtotal,
		Tax:           req.Tax,
		Discount:      req.Discount,
		Total:         req.Total,
		Status:        store.StatusCompleted,
		DeviceID:      h.syncCfg.DeviceID,
		ReceiptNumber: req.ReceiptNumber,
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.StoreID == "" {
		tx.StoreID = h.syncCfg.StoreID
	}
	if tx.ReceiptNumber == "" {
		tx.ReceiptNumber = receiptNumber(tx.ID)
	}
	if req.CapturedAt != nil {
		tx.CapturedAt = req.CapturedAt.UTC()
	} else {
		tx.CapturedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	if tx.Subtotal == 0 && tx.Tax == 0 && tx.Total == 0 {
		tx.ComputeTotals()
	}
	if h.syncCfg.SigningKey != "" {
		tx.Sign([]byte(h.syncCfg.SigningKey))
	}

	err := h.store.AppendTransaction(r.Context(), tx)
	switch {
	case errors.Is(err, store.ErrDuplicateID):
		writeJSON(w, http.StatusOK, map[string]string{"id": tx.ID, "status": "duplicate"})
	case errors.Is(err, store.ErrInvalidTotals):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.syncManager.Trigger()
		writeJSON(w, http.StatusCreated, tx)
	}
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.store.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

type decrementRequest struct {
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id"`
	LocationID string `json:"location_id"`
	Quantity   int64  `json:"quantity"`
}

func (h *Handler) DecrementStock(w http.ResponseWriter, r *http.Request) {
	var req decrementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.LocationID == "" {
		req.LocationID = h.syncCfg.LocationID
	}

	remaining, err := h.store.DecrementStock(r.Context(), req.ProductID, req.VariantID, req.LocationID, req.Quantity)
	var stockErr *store.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     stockErr.Error(),
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "no stock record for this product at this location")
	case errors.Is(err, store.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]int64{"remaining": remaining})
	}
}

type customerRequest struct {
	ID    string  `json:"id"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
	Name  string  `json:"name"`
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := &store.CustomerCache{
		ID:        req.ID,
		Email:     req.Email,
		Phone:     req.Phone,
		Name:      req.Name,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	err := h.store.CreateCustomer(r.Context(), c)
	switch {
	case errors.Is(err, store.ErrDuplicateID):
		writeJSON(w, http.StatusOK, map[string]string{"id": c.ID, "status": "duplicate"})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.syncManager.Trigger()
		writeJSON(w, http.StatusCreated, c)
	}
}

// receiptNumber derives a short human readable number from the id.
func receiptNumber(id string) string {
	compact := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(compact) > 10 {
		compact = compact[:10]
	}
	return "R-" + compact
}
