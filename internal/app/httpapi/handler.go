// Package httpapi exposes the payment layer REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/ledgerworks/payment_layer/internal/app"
	"github.com/ledgerworks/payment_layer/internal/app/domain/catalog"
	"github.com/ledgerworks/payment_layer/internal/app/domain/payment"
	"github.com/ledgerworks/payment_layer/internal/app/metrics"
	catalogsvc "github.com/ledgerworks/payment_layer/internal/app/services/catalog"
	"github.com/ledgerworks/payment_layer/internal/app/services/payments"
	"github.com/ledgerworks/payment_layer/internal/app/storage"
	"github.com/ledgerworks/payment_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the payment REST API.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.HandleFunc("/", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Catalog. Registered before the {payment_id} routes so "services" is
	// never captured as an identifier.
	r.HandleFunc("/payments/services", h.createService).Methods(http.MethodPost)
	r.HandleFunc("/payments/services", h.listServices).Methods(http.MethodGet)
	r.HandleFunc("/payments/services/{service_id}", h.getService).Methods(http.MethodGet)
	r.HandleFunc("/payments/services/{service_id}", h.updateService).Methods(http.MethodPut)
	r.HandleFunc("/payments/services/{service_id}", h.deleteService).Methods(http.MethodDelete)

	// Lifecycle entry points.
	r.HandleFunc("/payments/create", h.createPayment).Methods(http.MethodPost)
	r.HandleFunc("/payments/apply", h.applyPayment).Methods(http.MethodPost)

	// Reporting buckets.
	r.HandleFunc("/payments/applications", h.listApplications).Methods(http.MethodGet)
	r.HandleFunc("/payments/pending", h.listPending).Methods(http.MethodGet)
	r.HandleFunc("/payments/completed", h.listCompleted).Methods(http.MethodGet)
	r.HandleFunc("/payments/user/{user_id}", h.listUserPayments).Methods(http.MethodGet)

	// Lifecycle transitions.
	r.HandleFunc("/payments/{payment_id}/approve", h.approve).Methods(http.MethodPut)
	r.HandleFunc("/payments/{payment_id}/reject", h.reject).Methods(http.MethodPut)
	r.HandleFunc("/payments/{payment_id}/process", h.process).Methods(http.MethodPost)
	r.HandleFunc("/payments/{payment_id}/fail", h.fail).Methods(http.MethodPost)
	r.HandleFunc("/payments/{payment_id}/download", h.downloadPayment).Methods(http.MethodGet)
	r.HandleFunc("/payments/{payment_id}", h.setStatus).Methods(http.MethodPut)
	r.HandleFunc("/payments/{payment_id}", h.getPayment).Methods(http.MethodGet)
	r.HandleFunc("/payments/{payment_id}", h.deletePayment).Methods(http.MethodDelete)

	r.HandleFunc("/payments", h.listPayments).Methods(http.MethodGet)
	r.HandleFunc("/export/payments", h.exportPayments).Methods(http.MethodGet)

	r.Use(loggingMiddleware(log), metricsMiddleware)
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "payment-layer"})
}

// --- catalog ----------------------------------------------------------------

func (h *handler) createService(w http.ResponseWriter, r *http.Request) {
	var payload catalog.Service
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	svc, err := h.app.Catalog.Create(r.Context(), payload)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateID) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("service ID already exists"))
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *handler) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.app.Catalog.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": services})
}

func (h *handler) getService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.app.Catalog.Get(r.Context(), mux.Vars(r)["service_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *handler) updateService(w http.ResponseWriter, r *http.Request) {
	var payload catalog.Update
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	svc, err := h.app.Catalog.Update(r.Context(), mux.Vars(r)["service_id"], payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *handler) deleteService(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Catalog.Delete(r.Context(), mux.Vars(r)["service_id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Payment service deleted successfully"})
}

// --- lifecycle --------------------------------------------------------------

type paymentStatusResponse struct {
	PaymentID string  `json:"payment_id"`
	Status    string  `json:"status"`
	Amount    float64 `json:"amount"`
	CreatedAt string  `json:"created_at"`
}

func statusResponse(rec payment.Record) paymentStatusResponse {
	return paymentStatusResponse{
		PaymentID: rec.ID,
		Status:    string(rec.Status),
		Amount:    rec.Amount,
		CreatedAt: rec.CreatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
}

func (h *handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ServiceID string  `json:"service_id"`
		Amount    float64 `json:"amount"`
		UserID    string  `json:"user_id"`
		Email     string  `json:"email"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := validateEmail(payload.Email); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	rec, err := h.app.Payments.Create(r.Context(), payments.CreateInput{
		ServiceID: payload.ServiceID,
		Amount:    payload.Amount,
		UserID:    payload.UserID,
		Email:     payload.Email,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(rec))
}

func (h *handler) applyPayment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ApplicationID string  `json:"application_id"`
		ServiceID     string  `json:"service_id"`
		Amount        float64 `json:"amount"`
		UserID        string  `json:"user_id"`
		Email         string  `json:"email"`
		Reason        string  `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := validateEmail(payload.Email); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	rec, err := h.app.Payments.Apply(r.Context(), payments.ApplyInput{
		ID:        payload.ApplicationID,
		ServiceID: payload.ServiceID,
		Amount:    payload.Amount,
		UserID:    payload.UserID,
		Email:     payload.Email,
		Reason:    payload.Reason,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(rec))
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Payments.Approve(r.Context(), mux.Vars(r)["payment_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Application approved and payment created",
		"payment_id": rec.ID,
		"status":     string(rec.Status),
	})
}

func (h *handler) reject(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	rec, err := h.app.Payments.Reject(r.Context(), mux.Vars(r)["payment_id"], payload.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Application rejected",
		"payment_id": rec.ID,
		"status":     string(rec.Status),
	})
}

func (h *handler) process(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TransactionID string `json:"transaction_id"`
	}
	// The body is optional for process.
	if err := decodeJSON(r.Body, &payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	rec, err := h.app.Payments.Process(r.Context(), mux.Vars(r)["payment_id"], payload.TransactionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(rec))
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Payments.Fail(r.Context(), mux.Vars(r)["payment_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(rec))
}

func (h *handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if strings.TrimSpace(payload.Status) == "" {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("status is required"))
		return
	}

	rec, err := h.app.Payments.SetStatus(r.Context(), mux.Vars(r)["payment_id"], payment.Status(payload.Status))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Payments.Delete(r.Context(), mux.Vars(r)["payment_id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Payment deleted successfully"})
}

// --- reporting --------------------------------------------------------------

func statusFilter(r *http.Request) payment.Status {
	return payment.Status(r.URL.Query().Get("status"))
}

func (h *handler) listPayments(w http.ResponseWriter, r *http.Request) {
	rows, err := h.app.Reporting.List(r.Context(), statusFilter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payments": rows})
}

func (h *handler) listUserPayments(w http.ResponseWriter, r *http.Request) {
	rows, err := h.app.Reporting.ListByUser(r.Context(), mux.Vars(r)["user_id"], statusFilter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payments": rows})
}

func (h *handler) listApplications(w http.ResponseWriter, r *http.Request) {
	rows, err := h.app.Reporting.Applications(r.Context(), statusFilter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applications": rows})
}

func (h *handler) listPending(w http.ResponseWriter, r *http.Request) {
	rows, err := h.app.Reporting.Pending(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payments": rows})
}

func (h *handler) listCompleted(w http.ResponseWriter, r *http.Request) {
	rows, err := h.app.Reporting.Completed(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payments": rows})
}

func (h *handler) getPayment(w http.ResponseWriter, r *http.Request) {
	row, err := h.app.Reporting.Detail(r.Context(), mux.Vars(r)["payment_id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *handler) downloadPayment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["payment_id"]
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=payment_%s.csv", id))

	if err := h.app.Reporting.ExportRecord(r.Context(), id, &delayedWriter{w: w}); err != nil {
		w.Header().Del("Content-Disposition")
		writeServiceError(w, err)
		return
	}
}

func (h *handler) exportPayments(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=all_payments.csv")

	if err := h.app.Reporting.ExportAll(r.Context(), statusFilter(r), &delayedWriter{w: w}); err != nil {
		w.Header().Del("Content-Disposition")
		writeServiceError(w, err)
		return
	}
}

// delayedWriter defers the 200 header until the first byte so lookup errors
// can still produce a JSON error response.
type delayedWriter struct {
	w       http.ResponseWriter
	started bool
}

func (d *delayedWriter) Write(p []byte) (int, error) {
	if !d.started {
		d.started = true
		d.w.WriteHeader(http.StatusOK)
	}
	return d.w.Write(p)
}

// --- helpers ----------------------------------------------------------------

func validateEmail(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("email is required")
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// writeServiceError maps service and storage errors to the HTTP taxonomy:
// 404 missing entity, 400 guard violation, 422 validation, 500 duplicate
// identifier and storage failures.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, payment.ErrNotInRequiredStatus):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, payments.ErrValidation), errors.Is(err, catalogsvc.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, storage.ErrDuplicateID):
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
