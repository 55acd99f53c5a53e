// Package storage declares the persistence contracts for the payment layer.
package storage

import (
	"context"
	"errors"

	"github.com/ledgerworks/payment_layer/internal/app/domain/catalog"
	"github.com/ledgerworks/payment_layer/internal/app/domain/payment"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID indicates an identifier collision on create. The whole
	// create fails; no partial write occurs.
	ErrDuplicateID = errors.New("duplicate identifier")
)

// PaymentFilter narrows payment listings. Zero values match everything.
type PaymentFilter struct {
	Status payment.Status
	UserID string
}

// ServiceStore persists catalog services.
type ServiceStore interface {
	CreateService(ctx context.Context, svc catalog.Service) (catalog.Service, error)
	UpdateService(ctx context.Context, id string, upd catalog.Update) (catalog.Service, error)
	GetService(ctx context.Context, id string) (catalog.Service, error)
	ListServices(ctx context.Context) ([]catalog.Service, error)
	DeleteService(ctx context.Context, id string) error
}

// PaymentStore persists payment records. UpdatePayment is the only mutation
// path used by the lifecycle engine: the mutator runs against the current
// committed record and the read-modify-write is atomic per identifier, so
// concurrent guard decisions on the same record serialize. Operations on
// different identifiers never block each other.
type PaymentStore interface {
	CreatePayment(ctx context.Context, rec payment.Record) (payment.Record, error)
	GetPayment(ctx context.Context, id string) (payment.Record, error)
	UpdatePayment(ctx context.Context, id string, mutate func(*payment.Record) error) (payment.Record, error)
	DeletePayment(ctx context.Context, id string) error
	ListPayments(ctx context.Context, filter PaymentFilter) ([]payment.Record, error)
}
