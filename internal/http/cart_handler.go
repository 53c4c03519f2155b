package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fjod/pharmacy-cart/internal/domain"
	"github.com/fjod/pharmacy-cart/internal/reducer"
	"github.com/fjod/pharmacy-cart/internal/service"
)

// Sessions hands out the live cart of an owner.
type Sessions interface {
	Session(ctx context.Context, owner string) (*service.Session, error)
}

type CartHandler struct {
	sessions Sessions
	timeout  time.Duration
	validate *validator.Validate
}

func NewCartHandler(sessions Sessions, timeout time.Duration) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		timeout:  timeout,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// AddItemRequestDTO accepts any numeric-looking value for the numeric fields.
// They are sanitized, never rejected.
type AddItemRequestDTO struct {
	ID            string         `json:"id" validate:"required,max=128"`
	Name          string         `json:"name" validate:"required,max=256"`
	Price         domain.Number  `json:"price"`
	Quantity      *domain.Number `json:"quantity"`
	Image         string         `json:"image"`
	Category      string         `json:"category"`
	Description   string         `json:"description"`
	Variation     string         `json:"variation"`
	InStock       *bool          `json:"inStock"`
	OriginalPrice *domain.Number `json:"originalPrice"`
	Discount      *domain.Number `json:"discount"`
}

type UpdateQuantityRequestDTO struct {
	Quantity domain.Number `json:"quantity"`
}

type AdjustQuantityRequestDTO struct {
	Delta *domain.Number `json:"delta"`
}

type CartResponse struct {
	Items     []domain.CartLineItem `json:"items"`
	Total     decimal.Decimal       `json:"total"`
	ItemCount int                   `json:"item_count"`
	Ready     bool                  `json:"ready"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func newCartResponse(state domain.CartState) CartResponse {
	return CartResponse{
		Items:     domain.CloneItems(state.Items),
		Total:     state.Total(),
		ItemCount: state.ItemCount(),
		Ready:     state.Initialized,
	}
}

func (dto AddItemRequestDTO) toItem() domain.CartLineItem {
	item := domain.CartLineItem{
		ID:          dto.ID,
		Name:        dto.Name,
		Price:       dto.Price.Float64(),
		Quantity:    1,
		Image:       dto.Image,
		Category:    dto.Category,
		Description: dto.Description,
		Variation:   dto.Variation,
		InStock:     dto.InStock,
	}
	if dto.Quantity != nil {
		item.Quantity = reducer.SanitizeQuantity(dto.Quantity.Float64())
	}
	if dto.OriginalPrice != nil {
		v := dto.OriginalPrice.Float64()
		item.OriginalPrice = &v
	}
	if dto.Discount != nil {
		v := dto.Discount.Float64()
		item.Discount = &v
	}
	return item
}

// session resolves the caller's cart, writing the error response itself when it cannot.
func (h *CartHandler) session(w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	owner := getOwner(r.Context())
	if owner == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing "+OwnerHeader+" header")
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, err := h.sessions.Session(ctx, owner)
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	return s, true
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(s.Snapshot()))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validate.Struct(req); err != nil {
		respondErrorDetails(w, http.StatusBadRequest, "invalid_item", "item requires id and name", validationDetails(err))
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusCreated, newCartResponse(s.AddItem(req.toItem())))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(s.SetQuantity(id, req.Quantity.Float64())))
}

func (h *CartHandler) IncreaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, (*service.Session).Increase)
}

func (h *CartHandler) DecreaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, (*service.Session).Decrease)
}

func (h *CartHandler) adjust(w http.ResponseWriter, r *http.Request, apply func(*service.Session, string, float64) domain.CartState) {
	id := chi.URLParam(r, "id")

	delta := 1.0
	var req AdjustQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Delta != nil {
		delta = req.Delta.Float64()
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(apply(s, id, delta)))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(s.RemoveItem(id)))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(s.Clear()))
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zlog.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondErrorDetails(w, status, code, message, "")
}

func respondErrorDetails(w http.ResponseWriter, status int, code, message, details string) {
	respondJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrOwnerRequired):
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, service.ErrRegistryClosed), errors.Is(err, service.ErrSessionClosed):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "cart service is shutting down")
	case errors.Is(err, service.ErrLoadFailed):
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "cart could not be loaded, try again")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "timed out loading cart")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
