// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ledgerworks/payment_layer/internal/app/domain/catalog"
	"github.com/ledgerworks/payment_layer/internal/app/domain/payment"
	"github.com/ledgerworks/payment_layer/internal/app/storage"
)

// Store keeps services and payment records in mutex-guarded maps. Payment
// mutators run under the write lock, which gives the atomic read-modify-write
// the interfaces require.
type Store struct {
	mu       sync.RWMutex
	services map[string]catalog.Service
	payments map[string]payment.Record
}

var _ storage.ServiceStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		services: make(map[string]catalog.Service),
		payments: make(map[string]payment.Record),
	}
}

// ServiceStore implementation ------------------------------------------------

func (s *Store) CreateService(_ context.Context, svc catalog.Service) (catalog.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[svc.ID]; exists {
		return catalog.Service{}, storage.ErrDuplicateID
	}
	now := time.Now().UTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	s.services[svc.ID] = svc
	return svc, nil
}

func (s *Store) UpdateService(_ context.Context, id string, upd catalog.Update) (catalog.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, exists := s.services[id]
	if !exists {
		return catalog.Service{}, storage.ErrNotFound
	}
	if upd.Name != nil {
		svc.Name = *upd.Name
	}
	if upd.Description != nil {
		svc.Description = *upd.Description
	}
	if upd.BasePrice != nil {
		svc.BasePrice = *upd.BasePrice
	}
	svc.UpdatedAt = time.Now().UTC()
	s.services[id] = svc
	return svc, nil
}

func (s *Store) GetService(_ context.Context, id string) (catalog.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, exists := s.services[id]
	if !exists {
		return catalog.Service{}, storage.ErrNotFound
	}
	return svc, nil
}

func (s *Store) ListServices(_ context.Context) ([]catalog.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteService(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[id]; !exists {
		return storage.ErrNotFound
	}
	delete(s.services, id)
	return nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreatePayment(_ context.Context, rec payment.Record) (payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[rec.ID]; exists {
		return payment.Record{}, storage.ErrDuplicateID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.payments[rec.ID] = rec
	return rec, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (payment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.payments[id]
	if !exists {
		return payment.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) UpdatePayment(_ context.Context, id string, mutate func(*payment.Record) error) (payment.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.payments[id]
	if !exists {
		return payment.Record{}, storage.ErrNotFound
	}

	createdAt := rec.CreatedAt
	if err := mutate(&rec); err != nil {
		return payment.Record{}, err
	}
	rec.ID = id
	rec.CreatedAt = createdAt // immutable once assigned
	s.payments[id] = rec
	return rec, nil
}

func (s *Store) DeletePayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[id]; !exists {
		return storage.ErrNotFound
	}
	delete(s.payments, id)
	return nil
}

func (s *Store) ListPayments(_ context.Context, filter storage.PaymentFilter) ([]payment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]payment.Record, 0, len(s.payments))
	for _, rec := range s.payments {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
