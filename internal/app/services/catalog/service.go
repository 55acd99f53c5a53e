// Package catalog manages the payable service catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledgerworks/payment_layer/internal/app/domain/catalog"
	"github.com/ledgerworks/payment_layer/internal/app/storage"
	"github.com/ledgerworks/payment_layer/pkg/logger"
)

// ErrValidation marks malformed catalog input. The HTTP layer maps it to 422.
var ErrValidation = errors.New("validation failed")

// Service manages catalog entries. Deleting a service never cascades to
// payment records; reporting tolerates the dangling reference.
type Service struct {
	store storage.ServiceStore
	log   *logger.Logger
}

// New constructs a catalog service.
func New(store storage.ServiceStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{store: store, log: log}
}

// Create registers a new service. The identifier is caller-supplied and must
// be unique.
func (s *Service) Create(ctx context.Context, svc catalog.Service) (catalog.Service, error) {
	svc.ID = strings.TrimSpace(svc.ID)
	svc.Name = strings.TrimSpace(svc.Name)

	if svc.ID == "" {
		return catalog.Service{}, fmt.Errorf("service_id is required: %w", ErrValidation)
	}
	if svc.Name == "" {
		return catalog.Service{}, fmt.Errorf("name is required: %w", ErrValidation)
	}
	if svc.BasePrice < 0 {
		return catalog.Service{}, fmt.Errorf("base_price must be non-negative: %w", ErrValidation)
	}

	created, err := s.store.CreateService(ctx, svc)
	if err != nil {
		return catalog.Service{}, err
	}
	s.log.WithField("service_id", created.ID).WithField("name", created.Name).
		Info("payment service added")
	return created, nil
}

// Update applies a partial update to a service.
func (s *Service) Update(ctx context.Context, id string, upd catalog.Update) (catalog.Service, error) {
	if upd.BasePrice != nil && *upd.BasePrice < 0 {
		return catalog.Service{}, fmt.Errorf("base_price must be non-negative: %w", ErrValidation)
	}
	updated, err := s.store.UpdateService(ctx, id, upd)
	if err != nil {
		return catalog.Service{}, err
	}
	s.log.WithField("service_id", id).Info("payment service updated")
	return updated, nil
}

// Get fetches a single service.
func (s *Service) Get(ctx context.Context, id string) (catalog.Service, error) {
	return s.store.GetService(ctx, id)
}

// List returns all services.
func (s *Service) List(ctx context.Context) ([]catalog.Service, error) {
	return s.store.ListServices(ctx)
}

// Delete removes a service. Existing payments keep their reference.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteService(ctx, id); err != nil {
		return err
	}
	s.log.WithField("service_id", id).Info("payment service deleted")
	return nil
}
