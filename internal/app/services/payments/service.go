// Package payments implements the payment lifecycle engine. All state is
// mutated through the store's atomic update so concurrent transition guards
// on the same record serialize; notifications run strictly after the commit
// and never influence the transition outcome.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerworks/payment_layer/internal/app/domain/payment"
	"github.com/ledgerworks/payment_layer/internal/app/metrics"
	"github.com/ledgerworks/payment_layer/internal/app/notify"
	"github.com/ledgerworks/payment_layer/internal/app/storage"
	"github.com/ledgerworks/payment_layer/pkg/logger"
)

// ErrValidation marks malformed caller input. The HTTP layer maps it to 422.
var ErrValidation = errors.New("validation failed")

// UnknownServiceName substitutes for a deleted or missing catalog entry.
const UnknownServiceName = "Unknown Service"

// failedReason is the fixed reason carried by payment_failed notifications.
const failedReason = "Payment processing failed"

// Service is the lifecycle engine. The notifier and stores are injected at
// construction; there are no package-level singletons.
type Service struct {
	services storage.ServiceStore
	store    storage.PaymentStore
	notifier notify.Notifier
	log      *logger.Logger

	inflight sync.WaitGroup
}

// New constructs the lifecycle engine.
func New(services storage.ServiceStore, store storage.PaymentStore, notifier notify.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Service{
		services: services,
		store:    store,
		notifier: notifier,
		log:      log,
	}
}

// CreateInput describes a direct payment creation.
type CreateInput struct {
	ServiceID string
	Amount    float64
	UserID    string
	Email     string
}

// ApplyInput describes a payment application. ID is optional; when empty a
// new identifier is generated. Caller-supplied and generated identifiers
// share one space; a collision fails the whole operation.
type ApplyInput struct {
	ID        string
	ServiceID string
	Amount    float64
	UserID    string
	Email     string
	Reason    string
}

// Create registers a direct obligation in pending state. The referenced
// service must exist.
func (s *Service) Create(ctx context.Context, in CreateInput) (payment.Record, error) {
	if err := requireFields(map[string]string{
		"service_id": in.ServiceID,
		"user_id":    in.UserID,
		"email":      in.Email,
	}); err != nil {
		return payment.Record{}, err
	}

	svc, err := s.services.GetService(ctx, in.ServiceID)
	if err != nil {
		metrics.RecordTransition("create", "rejected")
		return payment.Record{}, fmt.Errorf("service lookup: %w", err)
	}

	rec := payment.Record{
		ID:        uuid.NewString(),
		ServiceID: in.ServiceID,
		Amount:    in.Amount,
		UserID:    in.UserID,
		Status:    payment.Pending,
		Email:     in.Email,
		CreatedAt: time.Now().UTC(),
	}
	rec, err = s.store.CreatePayment(ctx, rec)
	if err != nil {
		metrics.RecordTransition("create", "error")
		return payment.Record{}, err
	}
	metrics.RecordTransition("create", "ok")

	s.log.WithField("payment_id", rec.ID).WithField("user_id", rec.UserID).
		WithField("amount", rec.Amount).Info("payment created")

	s.dispatch(notify.TemplatePaymentCreated, rec.Email, map[string]interface{}{
		"payment_id":   rec.ID,
		"service_name": svc.Name,
		"amount":       rec.Amount,
		"due_date":     rec.DueDate().Format("2006-01-02"),
	})
	return rec, nil
}

// Apply registers an obligation through the review path. The record lands in
// application_pending and carries the caller's reason.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (payment.Record, error) {
	if err := requireFields(map[string]string{
		"service_id": in.ServiceID,
		"user_id":    in.UserID,
		"email":      in.Email,
		"reason":     in.Reason,
	}); err != nil {
		return payment.Record{}, err
	}

	svc, err := s.services.GetService(ctx, in.ServiceID)
	if err != nil {
		metrics.RecordTransition("apply", "rejected")
		return payment.Record{}, fmt.Errorf("service lookup: %w", err)
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	rec := payment.Record{
		ID:                id,
		ServiceID:         in.ServiceID,
		Amount:            in.Amount,
		UserID:            in.UserID,
		Status:            payment.ApplicationPending,
		Email:             in.Email,
		ApplicationReason: in.Reason,
		CreatedAt:         time.Now().UTC(),
	}
	rec, err = s.store.CreatePayment(ctx, rec)
	if err != nil {
		metrics.RecordTransition("apply", "error")
		return payment.Record{}, err
	}
	metrics.RecordTransition("apply", "ok")

	s.log.WithField("payment_id", rec.ID).WithField("user_id", rec.UserID).
		Info("payment application created")

	s.dispatch(notify.TemplateApplicationCreated, rec.Email, map[string]interface{}{
		"application_id": rec.ID,
		"service_name":   svc.Name,
		"amount":         rec.Amount,
	})
	return rec, nil
}

// Approve moves an application_pending record to pending. Any other current
// status rejects the call with no mutation.
func (s *Service) Approve(ctx context.Context, id string) (payment.Record, error) {
	rec, err := s.transition(ctx, id, payment.ActionApprove)
	if err != nil {
		return payment.Record{}, err
	}

	serviceName := s.serviceName(ctx, rec.ServiceID)
	s.log.WithField("payment_id", rec.ID).Info("application approved, payment pending")

	s.dispatch(notify.TemplateApplicationApproved, rec.Email, map[string]interface{}{
		"application_id": rec.ID,
		"service_name":   serviceName,
		"amount":         rec.Amount,
		"payment_id":     rec.ID,
	})
	s.dispatch(notify.TemplatePaymentCreated, rec.Email, map[string]interface{}{
		"payment_id":   rec.ID,
		"service_name": serviceName,
		"amount":       rec.Amount,
		"due_date":     rec.DueDate().Format("2006-01-02"),
	})
	return rec, nil
}

// Reject moves an application_pending record to application_rejected and
// records the caller's reason in the notification.
func (s *Service) Reject(ctx context.Context, id, reason string) (payment.Record, error) {
	if strings.TrimSpace(reason) == "" {
		return payment.Record{}, fmt.Errorf("reason is required: %w", ErrValidation)
	}

	rec, err := s.transition(ctx, id, payment.ActionReject)
	if err != nil {
		return payment.Record{}, err
	}

	s.log.WithField("payment_id", rec.ID).WithField("reason", reason).
		Info("application rejected")

	s.dispatch(notify.TemplateApplicationRejected, rec.Email, map[string]interface{}{
		"application_id": rec.ID,
		"service_name":   s.serviceName(ctx, rec.ServiceID),
		"amount":         rec.Amount,
		"reason":         reason,
	})
	return rec, nil
}

// Process settles a pending payment. Settlement is simulated: the record
// moves to paid locally and the success notification carries a transaction
// reference, generated when the caller supplies none.
func (s *Service) Process(ctx context.Context, id, transactionID string) (payment.Record, error) {
	rec, err := s.transition(ctx, id, payment.ActionProcess)
	if err != nil {
		return payment.Record{}, err
	}

	if transactionID == "" {
		transactionID = uuid.NewString()
	}
	s.log.WithField("payment_id", rec.ID).WithField("transaction_id", transactionID).
		Info("payment processed")

	s.dispatch(notify.TemplatePaymentSuccess, rec.Email, map[string]interface{}{
		"payment_id":     rec.ID,
		"service_name":   s.serviceName(ctx, rec.ServiceID),
		"amount":         rec.Amount,
		"transaction_id": transactionID,
	})
	return rec, nil
}

// Fail marks a payment failed from any state, including terminal ones. The
// permissiveness is part of the contract; see the transition table.
func (s *Service) Fail(ctx context.Context, id string) (payment.Record, error) {
	rec, err := s.transition(ctx, id, payment.ActionFail)
	if err != nil {
		return payment.Record{}, err
	}

	s.log.WithField("payment_id", rec.ID).Info("payment marked as failed")

	s.dispatch(notify.TemplatePaymentFailed, rec.Email, map[string]interface{}{
		"payment_id":   rec.ID,
		"service_name": s.serviceName(ctx, rec.ServiceID),
		"amount":       rec.Amount,
		"reason":       failedReason,
	})
	return rec, nil
}

// SetStatus force-sets the status from any state. Arbitrary strings are
// accepted and persisted as-is; only paid and failed trigger notifications.
func (s *Service) SetStatus(ctx context.Context, id string, status payment.Status) (payment.Record, error) {
	rec, err := s.store.UpdatePayment(ctx, id, func(r *payment.Record) error {
		r.Status = status
		return nil
	})
	if err != nil {
		metrics.RecordTransition("set_status", "error")
		return payment.Record{}, err
	}
	metrics.RecordTransition("set_status", "ok")

	s.log.WithField("payment_id", rec.ID).WithField("status", string(status)).
		Info("payment status updated")

	switch status {
	case payment.Paid:
		s.dispatch(notify.TemplatePaymentSuccess, rec.Email, map[string]interface{}{
			"payment_id":   rec.ID,
			"service_name": s.serviceName(ctx, rec.ServiceID),
			"amount":       rec.Amount,
		})
	case payment.Failed:
		s.dispatch(notify.TemplatePaymentFailed, rec.Email, map[string]interface{}{
			"payment_id":   rec.ID,
			"service_name": s.serviceName(ctx, rec.ServiceID),
			"amount":       rec.Amount,
			"reason":       failedReason,
		})
	}
	return rec, nil
}

// Delete removes a record unconditionally from any state and sends a
// best-effort deletion notice.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	serviceName := s.serviceName(ctx, rec.ServiceID)

	if err := s.store.DeletePayment(ctx, id); err != nil {
		return err
	}
	metrics.RecordTransition("delete", "ok")

	s.log.WithField("payment_id", id).Info("payment deleted")

	s.dispatch(notify.TemplateApplicationDeleted, rec.Email, map[string]interface{}{
		"application_id": rec.ID,
		"service_name":   serviceName,
		"amount":         rec.Amount,
	})
	return nil
}

// Get fetches a single record.
func (s *Service) Get(ctx context.Context, id string) (payment.Record, error) {
	return s.store.GetPayment(ctx, id)
}

// Flush blocks until all in-flight notifications have been attempted. Used
// during shutdown and by tests.
func (s *Service) Flush() {
	s.inflight.Wait()
}

// transition applies a guarded action through the store's atomic update.
func (s *Service) transition(ctx context.Context, id string, action payment.Action) (payment.Record, error) {
	rec, err := s.store.UpdatePayment(ctx, id, func(r *payment.Record) error {
		next, err := payment.Transition(r.Status, action)
		if err != nil {
			return err
		}
		r.Status = next
		return nil
	})
	if err != nil {
		if errors.Is(err, payment.ErrNotInRequiredStatus) {
			metrics.RecordTransition(string(action), "rejected")
		} else {
			metrics.RecordTransition(string(action), "error")
		}
		return payment.Record{}, err
	}
	metrics.RecordTransition(string(action), "ok")
	return rec, nil
}

// dispatch sends a notification without blocking the caller. Failures are
// logged and counted, never returned: the transition is committed by the
// time this runs.
func (s *Service) dispatch(templateID, recipient string, data map[string]interface{}) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.notifier.Send(ctx, templateID, recipient, data); err != nil {
			metrics.RecordNotificationFailure(templateID)
			s.log.WithField("template", templateID).WithField("recipient", recipient).
				Warnf("notification failed: %v", err)
		}
	}()
}

// serviceName resolves the catalog name, substituting the placeholder when
// the service reference dangles.
func (s *Service) serviceName(ctx context.Context, serviceID string) string {
	svc, err := s.services.GetService(ctx, serviceID)
	if err != nil {
		return UnknownServiceName
	}
	return svc.Name
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s is required: %w", name, ErrValidation)
		}
	}
	return nil
}
