package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-tenant/internal/api/dto"
	"github.com/hugh/go-tenant/internal/api/middleware"
	"github.com/hugh/go-tenant/internal/api/validation"
	"github.com/hugh/go-tenant/internal/billing"
	"github.com/hugh/go-tenant/pkg/util"
)

type BillingHandler struct {
	initiator *billing.Initiator
	coupons   *billing.Coupons
	store     billing.Store
	logger    *slog.Logger
}

func NewBillingHandler(initiator *billing.Initiator, coupons *billing.Coupons, store billing.Store, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	return &BillingHandler{initiator: initiator, coupons: coupons, store: store, logger: logger}
}

// Checkout handles POST /api/v1/billing/checkout
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.Struct(req); errs != nil {
		writeValidationError(w, errs)
		return
	}
	priceID, _ := uuid.Parse(req.ProductPriceID)

	session, err := h.initiator.Checkout(r.Context(), middleware.GetActor(r.Context()), billing.CheckoutRequest{
		ProductPriceID: priceID,
		PromotionCode:  req.PromotionCode,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, dto.CheckoutResponse{CheckoutURL: session.URL})
	case errors.Is(err, billing.ErrPriceNotPurchasable):
		writeError(w, http.StatusBadRequest, "Price is not available for purchase")
	case errors.Is(err, billing.ErrCouponUnavailable):
		writeValidationError(w, map[string]string{"promotion_code": "is not valid"})
	default:
		h.providerError(w, r, "checkout failed", err)
	}
}

// Coupon handles GET /api/v1/billing/coupons/{code}. A code that could not
// be applied at checkout right now is reported as not found.
func (h *BillingHandler) Coupon(w http.ResponseWriter, r *http.Request) {
	coupon, err := h.coupons.Validate(r.Context(), chi.URLParam(r, "code"))
	if errors.Is(err, billing.ErrCouponUnavailable) {
		writeError(w, http.StatusNotFound, "Coupon not found")
		return
	}
	if err != nil {
		h.logger.Error("validating coupon", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, dto.CouponToResponse(coupon))
}

// Cancel handles POST /api/v1/billing/subscription/cancel
func (h *BillingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	err := h.initiator.Cancel(r.Context(), middleware.GetActor(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, dto.MessageResponse{
			Message: "Subscription will be canceled at the end of the current period",
		})
	case errors.Is(err, billing.ErrNoActiveSubscription):
		writeError(w, http.StatusNotFound, "No active subscription")
	default:
		h.providerError(w, r, "cancel failed", err)
	}
}

func (h *BillingHandler) providerError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"org_id", middleware.GetOrganizationID(r.Context()),
		"user_id", middleware.GetUserID(r.Context()),
		"error", err,
	)
	if errors.Is(err, billing.ErrProviderUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "Payment provider unavailable, try again")
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// Subscription handles GET /api/v1/billing/subscription
func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.store.LatestSubscription(r.Context(), middleware.GetOrganizationID(r.Context()))
	if errors.Is(err, billing.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No subscription")
		return
	}
	if err != nil {
		h.logger.Error("loading subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, dto.SubscriptionToResponse(sub))
}

// Transactions handles GET /api/v1/billing/transactions
func (h *BillingHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	pagination := paginationFromRequest(r)

	txns, total, err := h.store.ListTransactions(r.Context(),
		middleware.GetOrganizationID(r.Context()), pagination.Offset(), pagination.PerPage)
	if err != nil {
		h.logger.Error("listing transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	data := make([]dto.TransactionResponse, len(txns))
	for i := range txns {
		data[i] = dto.TransactionToResponse(&txns[i])
	}

	writeJSON(w, http.StatusOK, dto.NewPage(pagination, data, total))
}
