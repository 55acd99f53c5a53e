// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ledgerworks/payment_layer/internal/app/domain/catalog"
	"github.com/ledgerworks/payment_layer/internal/app/domain/payment"
	"github.com/ledgerworks/payment_layer/internal/app/storage"
)

// Store implements the storage interfaces using a *sql.DB handle.
type Store struct {
	db *sql.DB
}

var _ storage.ServiceStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the payment tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS payment_services (
			service_id  TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			base_price  DOUBLE PRECISION NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			payment_id         TEXT PRIMARY KEY,
			service_id         TEXT NOT NULL,
			amount             DOUBLE PRECISION NOT NULL,
			user_id            TEXT NOT NULL,
			status             TEXT NOT NULL,
			email              TEXT NOT NULL,
			application_reason TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS payments_user_idx ON payments (user_id)`,
		`CREATE INDEX IF NOT EXISTS payments_status_idx ON payments (status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- ServiceStore -----------------------------------------------------------

func (s *Store) CreateService(ctx context.Context, svc catalog.Service) (catalog.Service, error) {
	now := time.Now().UTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_services (service_id, name, description, base_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, svc.ID, svc.Name, svc.Description, svc.BasePrice, svc.CreatedAt, svc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return catalog.Service{}, storage.ErrDuplicateID
		}
		return catalog.Service{}, err
	}
	return svc, nil
}

func (s *Store) UpdateService(ctx context.Context, id string, upd catalog.Update) (catalog.Service, error) {
	existing, err := s.GetService(ctx, id)
	if err != nil {
		return catalog.Service{}, err
	}

	if upd.Name != nil {
		existing.Name = *upd.Name
	}
	if upd.Description != nil {
		existing.Description = *upd.Description
	}
	if upd.BasePrice != nil {
		existing.BasePrice = *upd.BasePrice
	}
	existing.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_services
		SET name = $2, description = $3, base_price = $4, updated_at = $5
		WHERE service_id = $1
	`, id, existing.Name, existing.Description, existing.BasePrice, existing.UpdatedAt)
	if err != nil {
		return catalog.Service{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return catalog.Service{}, storage.ErrNotFound
	}
	return existing, nil
}

func (s *Store) GetService(ctx context.Context, id string) (catalog.Service, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT service_id, name, description, base_price, created_at, updated_at
		FROM payment_services
		WHERE service_id = $1
	`, id)

	var svc catalog.Service
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.BasePrice, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Service{}, storage.ErrNotFound
		}
		return catalog.Service{}, err
	}
	return svc, nil
}

func (s *Store) ListServices(ctx context.Context) ([]catalog.Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service_id, name, description, base_price, created_at, updated_at
		FROM payment_services
		ORDER BY service_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Service
	for rows.Next() {
		var svc catalog.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.BasePrice, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *Store) DeleteService(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM payment_services WHERE service_id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- PaymentStore -----------------------------------------------------------

func (s *Store) CreatePayment(ctx context.Context, rec payment.Record) (payment.Record, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (payment_id, service_id, amount, user_id, status, email, application_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.ServiceID, rec.Amount, rec.UserID, string(rec.Status), rec.Email, rec.ApplicationReason, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.Record{}, storage.ErrDuplicateID
		}
		return payment.Record{}, err
	}
	return rec, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Record, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `
		SELECT payment_id, service_id, amount, user_id, status, email, application_reason, created_at
		FROM payments
		WHERE payment_id = $1
	`, id))
}

// UpdatePayment locks the row, applies the mutator against the committed
// state and writes the result back in the same transaction. Concurrent
// updates on the same identifier serialize on the row lock.
func (s *Store) UpdatePayment(ctx context.Context, id string, mutate func(*payment.Record) error) (payment.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return payment.Record{}, err
	}
	defer tx.Rollback()

	rec, err := scanPayment(tx.QueryRowContext(ctx, `
		SELECT payment_id, service_id, amount, user_id, status, email, application_reason, created_at
		FROM payments
		WHERE payment_id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return payment.Record{}, err
	}

	createdAt := rec.CreatedAt
	if err := mutate(&rec); err != nil {
		return payment.Record{}, err
	}
	rec.ID = id
	rec.CreatedAt = createdAt // immutable once assigned

	_, err = tx.ExecContext(ctx, `
		UPDATE payments
		SET service_id = $2, amount = $3, user_id = $4, status = $5, email = $6, application_reason = $7
		WHERE payment_id = $1
	`, rec.ID, rec.ServiceID, rec.Amount, rec.UserID, string(rec.Status), rec.Email, rec.ApplicationReason)
	if err != nil {
		return payment.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return payment.Record{}, err
	}
	return rec, nil
}

func (s *Store) DeletePayment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM payments WHERE payment_id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, filter storage.PaymentFilter) ([]payment.Record, error) {
	query := `
		SELECT payment_id, service_id, amount, user_id, status, email, application_reason, created_at
		FROM payments`
	var (
		clauses []string
		args    []interface{}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payment.Record
	for rows.Next() {
		var rec payment.Record
		var status string
		if err := rows.Scan(&rec.ID, &rec.ServiceID, &rec.Amount, &rec.UserID, &status, &rec.Email, &rec.ApplicationReason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Status = payment.Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row rowScanner) (payment.Record, error) {
	var rec payment.Record
	var status string
	err := row.Scan(&rec.ID, &rec.ServiceID, &rec.Amount, &rec.UserID, &status, &rec.Email, &rec.ApplicationReason, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payment.Record{}, storage.ErrNotFound
		}
		return payment.Record{}, err
	}
	rec.Status = payment.Status(status)
	return rec, nil
}
