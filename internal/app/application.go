// Package app wires the payment layer services together and manages their
// lifecycle.
package app

import (
	"context"

	"github.com/ledgerworks/payment_layer/internal/app/notify"
	catalogsvc "github.com/ledgerworks/payment_layer/internal/app/services/catalog"
	"github.com/ledgerworks/payment_layer/internal/app/services/payments"
	"github.com/ledgerworks/payment_layer/internal/app/services/reporting"
	"github.com/ledgerworks/payment_layer/internal/app/storage"
	"github.com/ledgerworks/payment_layer/internal/app/storage/memory"
	"github.com/ledgerworks/payment_layer/internal/app/system"
	"github.com/ledgerworks/payment_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Services storage.ServiceStore
	Payments storage.PaymentStore
}

// Options carries optional collaborators.
type Options struct {
	Notifier       notify.Notifier
	ExportDir      string
	ExportSchedule string
}

// Application ties the services together. Dependencies are injected at
// construction; nothing lives in package-level state.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Catalog   *catalogsvc.Service
	Payments  *payments.Service
	Reporting *reporting.Service
	Exporter  *reporting.Exporter
}

// New builds a fully initialised application.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Services == nil {
		stores.Services = mem
	}
	if stores.Payments == nil {
		stores.Payments = mem
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}

	catalogService := catalogsvc.New(stores.Services, log)
	paymentService := payments.New(stores.Services, stores.Payments, notifier, log)
	reportingService := reporting.New(stores.Services, stores.Payments, log)
	exporter := reporting.NewExporter(reportingService, opts.ExportDir, opts.ExportSchedule, log)

	manager := system.NewManager()
	if err := manager.Register(exporter); err != nil {
		return nil, err
	}

	return &Application{
		manager:   manager,
		log:       log,
		Catalog:   catalogService,
		Payments:  paymentService,
		Reporting: reportingService,
		Exporter:  exporter,
	}, nil
}

// Start launches background components.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop flushes in-flight notifications and stops background components.
func (a *Application) Stop(ctx context.Context) error {
	a.Payments.Flush()
	return a.manager.Stop(ctx)
}
