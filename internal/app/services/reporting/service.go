// Package reporting provides read-only projections over committed payment
// state. It never goes through the lifecycle engine and never fails on a
// dangling service reference.
package reporting

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ledgerworks/payment_layer/internal/app/domain/payment"
	"github.com/ledgerworks/payment_layer/internal/app/metrics"
	"github.com/ledgerworks/payment_layer/internal/app/storage"
	"github.com/ledgerworks/payment_layer/pkg/logger"
)

// UnknownServiceName substitutes for a missing catalog entry in projections.
const UnknownServiceName = "Unknown Service"

// CSVHeader is the exact header row of every CSV export.
const CSVHeader = "Payment ID, Service ID, Service Name, Amount, User ID, Status, Created At, Email, Application Reason"

// Row is a payment record joined with its service name.
type Row struct {
	PaymentID         string    `json:"payment_id"`
	ServiceID         string    `json:"service_id"`
	ServiceName       string    `json:"service_name"`
	Amount            float64   `json:"amount"`
	UserID            string    `json:"user_id"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	Email             string    `json:"email"`
	ApplicationReason string    `json:"application_reason,omitempty"`
}

// Service produces listings and CSV exports.
type Service struct {
	services storage.ServiceStore
	store    storage.PaymentStore
	log      *logger.Logger
}

// New constructs a reporting service.
func New(services storage.ServiceStore, store storage.PaymentStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reporting")
	}
	return &Service{services: services, store: store, log: log}
}

// List returns all payments, optionally narrowed to one status.
func (s *Service) List(ctx context.Context, status payment.Status) ([]Row, error) {
	recs, err := s.store.ListPayments(ctx, storage.PaymentFilter{Status: status})
	if err != nil {
		return nil, err
	}
	return s.join(ctx, recs), nil
}

// ListByUser returns one user's payments, newest first, optionally narrowed
// to one status.
func (s *Service) ListByUser(ctx context.Context, userID string, status payment.Status) ([]Row, error) {
	recs, err := s.store.ListPayments(ctx, storage.PaymentFilter{Status: status, UserID: userID})
	if err != nil {
		return nil, err
	}
	return s.join(ctx, recs), nil
}

// Applications returns records in the review path. A non-empty status
// narrows the bucket to that state.
func (s *Service) Applications(ctx context.Context, status payment.Status) ([]Row, error) {
	bucket := []payment.Status{payment.ApplicationPending, payment.ApplicationRejected}
	if status != "" {
		bucket = []payment.Status{status}
	}

	var out []Row
	for _, st := range bucket {
		if !st.IsApplicationState() {
			continue
		}
		rows, err := s.List(ctx, st)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// Pending returns records awaiting settlement.
func (s *Service) Pending(ctx context.Context) ([]Row, error) {
	return s.List(ctx, payment.Pending)
}

// Completed returns settled records.
func (s *Service) Completed(ctx context.Context) ([]Row, error) {
	return s.List(ctx, payment.Paid)
}

// Detail returns a single joined record.
func (s *Service) Detail(ctx context.Context, id string) (Row, error) {
	rec, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return Row{}, err
	}
	return s.joinOne(ctx, rec), nil
}

// ExportRecord writes a one-record CSV export.
func (s *Service) ExportRecord(ctx context.Context, id string, w io.Writer) error {
	rec, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if err := s.writeCSV(ctx, []payment.Record{rec}, w); err != nil {
		return err
	}
	metrics.RecordExport("single")
	s.log.WithField("payment_id", id).Info("payment CSV export produced")
	return nil
}

// ExportAll writes a CSV export of every record, optionally narrowed to one
// status. The export reflects only committed state.
func (s *Service) ExportAll(ctx context.Context, status payment.Status, w io.Writer) error {
	recs, err := s.store.ListPayments(ctx, storage.PaymentFilter{Status: status})
	if err != nil {
		return err
	}
	if err := s.writeCSV(ctx, recs, w); err != nil {
		return err
	}
	metrics.RecordExport("all")
	s.log.WithField("records", len(recs)).Info("payments CSV export produced")
	return nil
}

// writeCSV emits the fixed header followed by one row per record. The header
// format (spaces after commas) is part of the export contract, so it is
// written verbatim rather than through the csv writer.
func (s *Service) writeCSV(ctx context.Context, recs []payment.Record, w io.Writer) error {
	if _, err := fmt.Fprintln(w, CSVHeader); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	for _, rec := range recs {
		row := s.joinOne(ctx, rec)
		err := cw.Write([]string{
			row.PaymentID,
			row.ServiceID,
			row.ServiceName,
			strconv.FormatFloat(row.Amount, 'f', -1, 64),
			row.UserID,
			row.Status,
			row.CreatedAt.Format(time.RFC3339),
			row.Email,
			row.ApplicationReason,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *Service) join(ctx context.Context, recs []payment.Record) []Row {
	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, s.joinOne(ctx, rec))
	}
	return rows
}

func (s *Service) joinOne(ctx context.Context, rec payment.Record) Row {
	name := UnknownServiceName
	if svc, err := s.services.GetService(ctx, rec.ServiceID); err == nil {
		name = svc.Name
	}
	return Row{
		PaymentID:         rec.ID,
		ServiceID:         rec.ServiceID,
		ServiceName:       name,
		Amount:            rec.Amount,
		UserID:            rec.UserID,
		Status:            string(rec.Status),
		CreatedAt:         rec.CreatedAt,
		Email:             rec.Email,
		ApplicationReason: rec.ApplicationReason,
	}
}
