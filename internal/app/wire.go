package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fulfillment/internal/delivery"
	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/invoices"
	"github.com/odyssey-erp/fulfillment/internal/observability"
	"github.com/odyssey-erp/fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/rbac"
	"github.com/odyssey-erp/fulfillment/internal/receipts"
	"github.com/odyssey-erp/fulfillment/internal/remote"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Stores bundles the persistence ports of one backend.
type Stores struct {
	Backend     string
	Invoices    invoices.Reader
	Deliveries  delivery.Store
	Receipts    receipts.Store
	Stock       inventory.StockReader
	Permissions rbac.PermissionStore
	// OpenInvoices is nil on the remote backend, which offers no listing.
	OpenInvoices interface {
		ListOpenInvoiceIDs(ctx context.Context, limit int) ([]int64, error)
	}
	// Idempotency is nil on the remote backend.
	Idempotency *shared.IdempotencyStore

	serviceToken string
	close        func()
}

// NewStores connects the backend selected by cfg.StoreBackend.
func NewStores(ctx context.Context, cfg *Config, logger *slog.Logger) (*Stores, error) {
	switch cfg.StoreBackend {
	case BackendPostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		invoiceRepo := invoices.NewRepository(pool)
		return &Stores{
			Backend:      BackendPostgres,
			Invoices:     invoiceRepo,
			Deliveries:   delivery.NewRepository(pool),
			Receipts:     receipts.NewRepository(pool),
			Stock:        inventory.NewRepository(pool),
			Permissions:  rbac.NewRepository(pool),
			OpenInvoices: invoiceRepo,
			Idempotency:  shared.NewIdempotencyStore(pool),
			close:        pool.Close,
		}, nil
	case BackendRemote:
		client, err := remote.NewClient(cfg.RemoteAPIURL, cfg.RemoteAPITimeout, logger)
		if err != nil {
			return nil, err
		}
		return NewRemoteStores(client, cfg.RemoteAPIToken), nil
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}
}

// NewRemoteStores binds every port to the ERP API client. serviceToken
// authenticates background work that has no request principal.
func NewRemoteStores(client *remote.Client, serviceToken string) *Stores {
	return &Stores{
		Backend:      BackendRemote,
		Invoices:     client,
		Deliveries:   client,
		Receipts:     client,
		Stock:        client,
		Permissions:  client,
		serviceToken: serviceToken,
		close:        func() {},
	}
}

// BackgroundContext prepares ctx for work running outside a request.
func (s *Stores) BackgroundContext(ctx context.Context) context.Context {
	if s == nil || s.Backend != BackendRemote || s.serviceToken == "" {
		return ctx
	}
	return remote.WithCredentials(ctx, remote.Credentials{Token: s.serviceToken})
}

// Close releases backend resources.
func (s *Stores) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// StatusNotifier receives status refresh requests after document changes.
type StatusNotifier interface {
	EnqueueStatusRefresh(ctx context.Context, invoiceID int64) error
}

// ServiceDeps collects the optional collaborators of the services.
type ServiceDeps struct {
	Redis    *redis.Client
	Notifier StatusNotifier
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Services holds the wired application services.
type Services struct {
	Invoices *invoices.Service
	Delivery *delivery.Service
	Receipts *receipts.Service
	RBAC     *rbac.Service
}

// NewServices wires the services over stores.
func NewServices(cfg *Config, stores *Stores, deps ServiceDeps) Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	invoiceService := invoices.NewService(stores.Invoices, stores.Deliveries, stores.Receipts, cfg.Attribution(), logger)
	if stores.Backend == BackendRemote {
		invoiceService.SetReadScope(remote.CredentialsScope)
	}

	deliveryService := delivery.NewService(stores.Invoices, stores.Deliveries, stores.Stock, logger)
	receiptService := receipts.NewService(stores.Invoices, stores.Receipts, logger)
	if deps.Redis != nil {
		deliveryService.SetProposalCache(delivery.NewProposalStore(deps.Redis, cfg.ProposalTTL), cfg.ProposalTTL)
		deliveryService.SetLocker(cache.NewLocker(deps.Redis, cfg.SubmissionLockTTL))
	}
	if deps.Notifier != nil {
		deliveryService.SetStatusNotifier(deps.Notifier)
		receiptService.SetStatusNotifier(deps.Notifier)
	}
	if deps.Metrics != nil {
		deliveryService.SetRecorder(deps.Metrics)
		receiptService.SetRecorder(deps.Metrics)
	}

	return Services{
		Invoices: invoiceService,
		Delivery: deliveryService,
		Receipts: receiptService,
		RBAC:     rbac.NewService(stores.Permissions),
	}
}

// NewHandlers builds the router parameters for services.
func NewHandlers(cfg *Config, stores *Stores, services Services, metrics *observability.Metrics, logger *slog.Logger) RouterParams {
	rbacMiddleware := rbac.Middleware{Service: services.RBAC, Logger: logger}
	return RouterParams{
		Logger:             logger,
		Config:             cfg,
		InvoiceHandler:     invoices.NewHandler(logger, services.Invoices, rbacMiddleware),
		DeliveryHandler:    delivery.NewHandler(logger, services.Delivery, rbacMiddleware, stores.Idempotency),
		ReceiptHandler:     receipts.NewHandler(logger, services.Receipts, rbacMiddleware, stores.Idempotency),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, services.RBAC),
		Metrics:            metrics,
	}
}
