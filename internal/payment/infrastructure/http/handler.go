// Package http exposes the payment lifecycle over REST and receives
// provider webhooks.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nelani/payment-gateway/internal/payment/application"
	"github.com/nelani/payment-gateway/internal/payment/domain"
	"github.com/nelani/payment-gateway/internal/provider"
)

const maxWebhookBody = 1 << 20

// PaymentService drives the synchronous payment operations.
type PaymentService interface {
	Initialize(ctx context.Context, orderID, amount string, providerID domain.Provider) (*application.PaymentView, error)
	Resume(ctx context.Context, orderID string) (*application.PaymentView, error)
	List(ctx context.Context, q application.ListQuery) ([]application.PaymentView, int64, error)
}

// WebhookService reconciles asynchronous provider callbacks.
type WebhookService interface {
	HandleWebhook(ctx context.Context, providerID domain.Provider, payload []byte, signature string) error
}

type Handler struct {
	log      *slog.Logger
	payments PaymentService
	webhooks WebhookService
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, payments PaymentService, webhooks WebhookService) *Handler {
	return &Handler{
		log:      log,
		payments: payments,
		webhooks: webhooks,
		tracer:   otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/payments", h.initializePayment)
	r.Post("/api/payments/resume", h.resumePayment)
	r.Get("/api/payments", h.listPayments)
	r.Post("/webhooks/{provider}", h.handleWebhook)
	return r
}

type initializeReq struct {
	OrderID  string `json:"order_id"`
	Amount   string `json:"amount"`
	Provider string `json:"provider"`
}

func (h *Handler) initializePayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "InitializePayment")
	defer span.End()

	var req initializeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	view, err := h.payments.Initialize(ctx, req.OrderID, req.Amount, domain.Provider(strings.ToUpper(req.Provider)))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) resumePayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ResumePayment")
	defer span.End()

	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	view, err := h.payments.Resume(ctx, orderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type listResponse struct {
	Items []application.PaymentView `json:"items"`
	Page  int                       `json:"page"`
	Size  int                       `json:"size"`
	Total int64                     `json:"total"`
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListPayments")
	defer span.End()

	q := application.ListQuery{
		SortBy:     application.SortField(r.URL.Query().Get("sortBy")),
		Descending: strings.EqualFold(r.URL.Query().Get("order"), "desc"),
		Page:       intParam(r, "page", 0),
		Size:       intParam(r, "size", 20),
	}

	views, total, err := h.payments.List(ctx, q)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: views, Page: q.Page, Size: q.Size, Total: total})
}

// handleWebhook acknowledges everything it can. Unverifiable deliveries
// already come back as nil from the reconciler; only a verified event that
// cannot be applied surfaces as an error here.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HandleWebhook")
	defer span.End()

	providerID := domain.Provider(strings.ToUpper(chi.URLParam(r, "provider")))
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Webhook-Signature")
	}

	if err := h.webhooks.HandleWebhook(ctx, providerID, payload, signature); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Messages
// stay generic so nothing sensitive leaks to clients.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, "payment not found")
	case errors.Is(err, application.ErrAlreadyPaid),
		errors.Is(err, application.ErrResumeInstead),
		errors.Is(err, application.ErrSessionExpired),
		errors.Is(err, application.ErrNotResumable),
		errors.Is(err, application.ErrDuplicateOrder),
		errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, provider.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, application.ErrInvalidAmount),
		errors.Is(err, application.ErrResumeUnsupported),
		errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrOrderIDTooLong),
		errors.Is(err, domain.ErrAmountNotPositive),
		errors.Is(err, provider.ErrInvalidRequest),
		errors.Is(err, provider.ErrUnsupported):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "payment provider unavailable")
	case errors.Is(err, provider.ErrMisconfigured):
		h.log.Error("provider misconfiguration surfaced to client", "err", err)
		writeError(w, http.StatusInternalServerError, "payment provider unavailable")
	default:
		h.log.Error("unhandled service error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
