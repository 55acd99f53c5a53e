package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	app "github.com/ledgerworks/payment_layer/internal/app"
	"github.com/ledgerworks/payment_layer/internal/app/services/reporting"
)

func newTestHandler(t *testing.T) (http.Handler, *app.Application) {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { application.Stop(context.Background()) })
	return NewHandler(application, nil), application
}

func doJSON(t *testing.T, handler http.Handler, method, url string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(method, url, reader))
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return out
}

func TestHandlerLifecycle(t *testing.T) {
	handler, application := newTestHandler(t)

	resp := doJSON(t, handler, http.MethodPost, "/payments/services", map[string]any{
		"service_id":  "svc-1",
		"name":        "Consulting",
		"description": "Hourly consulting",
		"base_price":  100.0,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 create service, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, handler, http.MethodGet, "/payments/services", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 list services, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodPost, "/payments/apply", map[string]any{
		"service_id": "svc-1",
		"amount":     150.0,
		"user_id":    "u1",
		"email":      "u1@example.com",
		"reason":     "bulk discount",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 apply, got %d: %s", resp.Code, resp.Body.String())
	}
	applied := decodeBody(t, resp)
	if applied["status"] != "application_pending" {
		t.Fatalf("expected application_pending, got %v", applied["status"])
	}
	id := applied["payment_id"].(string)

	// Settlement before approval violates the lifecycle guard.
	resp = doJSON(t, handler, http.MethodPost, "/payments/"+id+"/process", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 premature process, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodPut, "/payments/"+id+"/approve", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 approve, got %d: %s", resp.Code, resp.Body.String())
	}
	approved := decodeBody(t, resp)
	if approved["status"] != "pending" {
		t.Fatalf("expected pending after approve, got %v", approved["status"])
	}

	// A second approve must fail the guard now that the record left review.
	resp = doJSON(t, handler, http.MethodPut, "/payments/"+id+"/approve", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 double approve, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodPost, "/payments/"+id+"/process", map[string]any{
		"transaction_id": "tx-42",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 process, got %d: %s", resp.Code, resp.Body.String())
	}
	processed := decodeBody(t, resp)
	if processed["status"] != "paid" {
		t.Fatalf("expected paid, got %v", processed["status"])
	}

	resp = doJSON(t, handler, http.MethodGet, "/payments/"+id, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 get payment, got %d", resp.Code)
	}
	detail := decodeBody(t, resp)
	if detail["service_name"] != "Consulting" {
		t.Fatalf("expected joined service name, got %v", detail["service_name"])
	}

	resp = doJSON(t, handler, http.MethodGet, "/payments/completed", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 completed, got %d", resp.Code)
	}
	completed := decodeBody(t, resp)
	if rows, _ := completed["payments"].([]any); len(rows) != 1 {
		t.Fatalf("expected 1 completed payment, got %v", completed["payments"])
	}

	resp = doJSON(t, handler, http.MethodGet, "/payments/user/u1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 user payments, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodPut, "/payments/"+id, map[string]any{"status": "on_hold"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 set status, got %d: %s", resp.Code, resp.Body.String())
	}
	overridden := decodeBody(t, resp)
	if overridden["status"] != "on_hold" {
		t.Fatalf("expected on_hold, got %v", overridden["status"])
	}

	resp = doJSON(t, handler, http.MethodPost, "/payments/"+id+"/fail", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 fail, got %d", resp.Code)
	}
	failed := decodeBody(t, resp)
	if failed["status"] != "failed" {
		t.Fatalf("expected failed, got %v", failed["status"])
	}

	resp = doJSON(t, handler, http.MethodGet, "/metrics", nil)
	if resp.Code != http.StatusOK || resp.Body.Len() == 0 {
		t.Fatalf("expected non-empty 200 metrics, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodGet, "/", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodDelete, "/payments/"+id, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 delete payment, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodGet, "/payments/"+id, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}

	application.Payments.Flush()
}

func TestHandlerDirectCreateAndReject(t *testing.T) {
	handler, _ := newTestHandler(t)

	resp := doJSON(t, handler, http.MethodPost, "/payments/services", map[string]any{
		"service_id": "svc-1",
		"name":       "Consulting",
		"base_price": 100.0,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 create service, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodPost, "/payments/create", map[string]any{
		"service_id": "svc-1",
		"amount":     100.0,
		"user_id":    "u2",
		"email":      "u2@example.com",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 create payment, got %d: %s", resp.Code, resp.Body.String())
	}
	created := decodeBody(t, resp)
	if created["status"] != "pending" {
		t.Fatalf("expected pending, got %v", created["status"])
	}

	resp = doJSON(t, handler, http.MethodPost, "/payments/apply", map[string]any{
		"service_id": "svc-1",
		"amount":     80.0,
		"user_id":    "u3",
		"email":      "u3@example.com",
		"reason":     "needs manager approval",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 apply, got %d", resp.Code)
	}
	appID := decodeBody(t, resp)["payment_id"].(string)

	// Reject without a reason is malformed input.
	resp = doJSON(t, handler, http.MethodPut, "/payments/"+appID+"/reject", map[string]any{})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 reasonless reject, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodPut, "/payments/"+appID+"/reject", map[string]any{
		"reason": "insufficient documentation",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 reject, got %d: %s", resp.Code, resp.Body.String())
	}
	rejected := decodeBody(t, resp)
	if rejected["status"] != "application_rejected" {
		t.Fatalf("expected application_rejected, got %v", rejected["status"])
	}

	// A rejected application never becomes approvable again.
	resp = doJSON(t, handler, http.MethodPut, "/payments/"+appID+"/approve", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 approve after reject, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodGet, "/payments/applications", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 applications, got %d", resp.Code)
	}
	apps := decodeBody(t, resp)
	if rows, _ := apps["applications"].([]any); len(rows) != 1 {
		t.Fatalf("expected 1 application, got %v", apps["applications"])
	}
}

func TestHandlerErrorTaxonomy(t *testing.T) {
	handler, _ := newTestHandler(t)

	// Missing entities answer 404.
	resp := doJSON(t, handler, http.MethodGet, "/payments/nope", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 missing payment, got %d", resp.Code)
	}
	resp = doJSON(t, handler, http.MethodGet, "/payments/services/nope", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 missing service, got %d", resp.Code)
	}
	resp = doJSON(t, handler, http.MethodPut, "/payments/nope/approve", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 approve missing, got %d", resp.Code)
	}

	// Malformed input answers 422.
	resp = doJSON(t, handler, http.MethodPost, "/payments/create", map[string]any{
		"service_id": "svc-1",
		"amount":     10.0,
		"user_id":    "u1",
		"email":      "not-an-email",
	})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 bad email, got %d", resp.Code)
	}
	resp = doJSON(t, handler, http.MethodPost, "/payments/create", map[string]any{
		"service_id": "svc-1",
		"amount":     10.0,
		"user_id":    "u1",
		"email":      "u1@example.com",
		"surprise":   true,
	})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 unknown field, got %d", resp.Code)
	}
	resp = doJSON(t, handler, http.MethodPost, "/payments/services", map[string]any{
		"service_id": "svc-neg",
		"name":       "Broken",
		"base_price": -5.0,
	})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 negative base price, got %d", resp.Code)
	}
	resp = doJSON(t, handler, http.MethodPut, "/payments/nope", map[string]any{"status": ""})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 empty status, got %d", resp.Code)
	}

	// Referencing an unknown service answers 404 from the lifecycle engine.
	resp = doJSON(t, handler, http.MethodPost, "/payments/create", map[string]any{
		"service_id": "ghost",
		"amount":     10.0,
		"user_id":    "u1",
		"email":      "u1@example.com",
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 unknown service, got %d", resp.Code)
	}

	// Duplicate service identifiers answer 400 with a fixed message.
	for i := 0; i < 2; i++ {
		resp = doJSON(t, handler, http.MethodPost, "/payments/services", map[string]any{
			"service_id": "svc-dup",
			"name":       "Dup",
			"base_price": 1.0,
		})
	}
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 duplicate service, got %d", resp.Code)
	}
	if msg := decodeBody(t, resp)["error"]; msg != "service ID already exists" {
		t.Fatalf("unexpected duplicate message: %v", msg)
	}

	// Duplicate payment identifiers answer 500.
	resp = doJSON(t, handler, http.MethodPost, "/payments/apply", map[string]any{
		"application_id": "app-1",
		"service_id":     "svc-dup",
		"amount":         1.0,
		"user_id":        "u1",
		"email":          "u1@example.com",
		"reason":         "retry test",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 first apply, got %d", resp.Code)
	}
	resp = doJSON(t, handler, http.MethodPost, "/payments/apply", map[string]any{
		"application_id": "app-1",
		"service_id":     "svc-dup",
		"amount":         1.0,
		"user_id":        "u1",
		"email":          "u1@example.com",
		"reason":         "retry test",
	})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 duplicate payment id, got %d", resp.Code)
	}
}

func TestHandlerCSVExports(t *testing.T) {
	handler, _ := newTestHandler(t)

	resp := doJSON(t, handler, http.MethodPost, "/payments/services", map[string]any{
		"service_id": "svc-1",
		"name":       "Consulting",
		"base_price": 100.0,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 create service, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodPost, "/payments/create", map[string]any{
		"service_id": "svc-1",
		"amount":     150.0,
		"user_id":    "u1",
		"email":      "u1@example.com",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 create payment, got %d", resp.Code)
	}
	id := decodeBody(t, resp)["payment_id"].(string)

	resp = doJSON(t, handler, http.MethodGet, "/payments/"+id+"/download", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 download, got %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, "payment_"+id+".csv") {
		t.Fatalf("unexpected content disposition: %q", cd)
	}
	lines := strings.Split(strings.TrimRight(resp.Body.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if lines[0] != reporting.CSVHeader {
		t.Fatalf("unexpected CSV header: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], id+",svc-1,Consulting,150,u1,pending,") {
		t.Fatalf("unexpected CSV row: %q", lines[1])
	}

	resp = doJSON(t, handler, http.MethodGet, "/export/payments", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 export, got %d", resp.Code)
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, "all_payments.csv") {
		t.Fatalf("unexpected content disposition: %q", cd)
	}

	// A filtered export with no matches still carries the header.
	resp = doJSON(t, handler, http.MethodGet, "/export/payments?status=failed", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 filtered export, got %d", resp.Code)
	}
	if got := strings.TrimRight(resp.Body.String(), "\n"); got != reporting.CSVHeader {
		t.Fatalf("expected bare header, got %q", got)
	}

	// A missing record keeps the JSON error contract on the download route.
	resp = doJSON(t, handler, http.MethodGet, "/payments/nope/download", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 download missing, got %d", resp.Code)
	}
	if cd := resp.Header().Get("Content-Disposition"); cd != "" {
		t.Fatalf("expected no content disposition on error, got %q", cd)
	}
}

func TestHandlerCatalogUpdateAndDelete(t *testing.T) {
	handler, _ := newTestHandler(t)

	resp := doJSON(t, handler, http.MethodPost, "/payments/services", map[string]any{
		"service_id": "svc-1",
		"name":       "Consulting",
		"base_price": 100.0,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 create service, got %d", resp.Code)
	}

	resp = doJSON(t, handler, http.MethodPut, "/payments/services/svc-1", map[string]any{
		"base_price": 120.0,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 update service, got %d: %s", resp.Code, resp.Body.String())
	}
	updated := decodeBody(t, resp)
	if updated["base_price"] != 120.0 {
		t.Fatalf("expected base_price 120, got %v", updated["base_price"])
	}
	if updated["name"] != "Consulting" {
		t.Fatalf("expected name untouched, got %v", updated["name"])
	}

	resp = doJSON(t, handler, http.MethodDelete, "/payments/services/svc-1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 delete service, got %d", resp.Code)
	}
	resp = doJSON(t, handler, http.MethodDelete, "/payments/services/svc-1", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 second delete, got %d", resp.Code)
	}
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	handler, _ := newTestHandler(t)
	limited := NewRateLimiter(1, 2, nil).Handler(handler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		resp := httptest.NewRecorder()
		limited.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("expected burst to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %v", codes)
	}

	// A different client keeps its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	resp := httptest.NewRecorder()
	limited.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for fresh client, got %d", resp.Code)
	}
}
