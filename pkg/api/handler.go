package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

const maxTransactionIDLen = 255

// Handler provides HTTP endpoints for retry inspection and cancellation
type Handler struct {
	config Config
}

// Routes returns a chi router with all operation endpoints mounted:
//
//	GET    /healthz
//	GET    /retries/{transactionID}
//	DELETE /retries/{transactionID}
//	GET    /tenants/{tenantID}/usage?period=YYYY-MM&metric=api_calls
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.Health)
	r.Route("/retries/{transactionID}", func(r chi.Router) {
		r.Get("/", h.GetRetry)
		r.Delete("/", h.CancelRetry)
	})
	r.Get("/tenants/{tenantID}/usage", h.GetUsage)
	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetRetry returns the current state of a payment retry
func (h *Handler) GetRetry(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")
	if transactionID == "" || len(transactionID) > maxTransactionIDLen {
		h.handleError(w, r, fmt.Errorf("invalid transaction ID"), http.StatusBadRequest)
		return
	}

	entry, err := h.config.Scheduler.GetRetryStatus(r.Context(), transactionID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get retry status: %w", err), http.StatusInternalServerError)
		return
	}
	if entry == nil {
		h.handleError(w, r, fmt.Errorf("retry not found"), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toRetryResponse(entry))
}

// CancelRetry cancels a pending payment retry
func (h *Handler) CancelRetry(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")
	if transactionID == "" || len(transactionID) > maxTransactionIDLen {
		h.handleError(w, r, fmt.Errorf("invalid transaction ID"), http.StatusBadRequest)
		return
	}

	cancelled, err := h.config.Scheduler.CancelRetry(r.Context(), transactionID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to cancel retry: %w", err), http.StatusInternalServerError)
		return
	}
	if !cancelled {
		h.handleError(w, r, fmt.Errorf("no live retry to cancel"), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"transaction_id": transactionID,
		"status":         string(payarmor.StatusCancelled),
	})
}

// GetUsage returns the monthly usage rollup for a tenant metric
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	if h.config.Usage == nil {
		h.handleError(w, r, fmt.Errorf("usage reads not configured"), http.StatusNotFound)
		return
	}

	tenantID := chi.URLParam(r, "tenantID")
	period := r.URL.Query().Get("period")
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = payarmor.MetricAPICalls
	}
	if tenantID == "" || period == "" {
		h.handleError(w, r, fmt.Errorf("tenant ID and period are required"), http.StatusBadRequest)
		return
	}

	rec, err := h.config.Usage.GetUsage(r.Context(), tenantID, period, metric)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get usage: %w", err), http.StatusInternalServerError)
		return
	}

	resp := UsageResponse{TenantID: tenantID, Period: period, Metric: metric}
	if rec != nil {
		resp.Quantity = rec.Quantity
		resp.Cost = rec.Cost
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	if status >= 500 {
		h.config.Logger.Error("operations api request failed",
			payarmor.Field{Key: "path", Value: r.URL.Path},
			payarmor.ErrField(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func toRetryResponse(e *payarmor.RetryEntry) RetryResponse {
	resp := RetryResponse{
		TransactionID: e.TransactionID,
		Status:        string(e.Status),
		ErrorCode:     e.ErrorCode,
		AttemptCount:  e.AttemptCount,
		MaxAttempts:   e.MaxAttempts,
		UpdatedAt:     e.UpdatedAt,
	}
	if e.Status == payarmor.StatusQueued {
		t := e.NextRetryAt
		resp.NextRetryAt = &t
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
