package common

import (
	"context"
	"log"

	"asset-ledger-go/internal/api"
	"asset-ledger-go/internal/config"
	"asset-ledger-go/internal/coordination"
	"asset-ledger-go/internal/database"
	"asset-ledger-go/internal/deposit"
	"asset-ledger-go/internal/events"
	"asset-ledger-go/internal/formance"
	"asset-ledger-go/internal/kvstore"
	"asset-ledger-go/internal/ledger"
	"asset-ledger-go/internal/metrics"
	"asset-ledger-go/internal/models"
	"asset-ledger-go/internal/prime"
	"asset-ledger-go/internal/reconcile"
	"asset-ledger-go/internal/withdrawal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services is the wired object graph shared by the binaries. Optional
// integrations (Kafka, Formance, Prime) are nil when not configured.
type Services struct {
	Config      *models.Config
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Catalog     *models.AssetCatalog
	DbService   *database.Service
	KV          *kvstore.Redis
	Ledger      *ledger.Ledger
	Deposits    *deposit.Tracker
	Withdrawals *withdrawal.Workflow
	Reconciler  *reconcile.Job
	Publisher   *events.Publisher
	Mirror      *formance.Mirror
	Broadcaster *prime.Service
	API         *api.LedgerService
}

// InitializeServices wires everything, connecting to the key-value store and
// every configured integration.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	s, err := InitializeLedgerOnly(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s.KV, err = kvstore.NewRedis(ctx, cfg.Redis)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Kafka.Enabled() {
		s.Publisher = events.NewPublisher(cfg.Kafka)
		s.Ledger.Journal().AddSink(s.Publisher)
	}

	if cfg.Formance.Enabled() {
		s.Mirror, err = formance.NewMirror(ctx, cfg.Formance, s.Catalog)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Ledger.Journal().AddSink(s.Mirror)
	}

	locker := coordination.NewLocker(s.KV, cfg.Coordination, s.Metrics)
	limiter := coordination.NewLimiter(s.KV, s.Metrics)
	s.Withdrawals = withdrawal.NewWorkflow(s.Ledger, locker, limiter, s.Catalog, cfg.Coordination, s.Metrics)

	if cfg.Prime.Enabled() {
		zap.L().Info("Loading Prime API credentials")
		s.Broadcaster, err = prime.NewService(ctx, cfg.Prime, s.Catalog)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Withdrawals.WithBroadcaster(s.Broadcaster)
	} else {
		zap.L().Warn("Prime credentials not configured, withdrawals will not be broadcast")
	}

	s.API = api.NewLedgerService(api.Dependencies{
		Balances:    s.Ledger,
		Journal:     s.Ledger,
		Deposits:    s.Deposits,
		Withdrawals: s.Withdrawals,
		DB:          s.DbService,
		KV:          s.KV,
	})
	return s, nil
}

// InitializeLedgerOnly opens the database and builds the ledger, deposit
// tracker and reconciler without any network dependency. Useful for
// read-only reports and operator corrections.
func InitializeLedgerOnly(ctx context.Context, cfg *models.Config) (*Services, error) {
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	catalog, err := config.LoadAssetCatalog(cfg.Listener.AssetsFile)
	if err != nil {
		return nil, err
	}

	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	dbService.WithMetrics(m)

	l := ledger.New(dbService, m)
	s := &Services{
		Config:     cfg,
		Registry:   registry,
		Metrics:    m,
		Catalog:    catalog,
		DbService:  dbService,
		Ledger:     l,
		Deposits:   deposit.NewTracker(l, catalog, cfg.Deposit, m),
		Reconciler: reconcile.NewJob(l, cfg.Listener.ReconcileWorkers, m),
	}
	s.API = api.NewLedgerService(api.Dependencies{
		Balances: l,
		Journal:  l,
		Deposits: s.Deposits,
		DB:       dbService,
	})
	return s, nil
}

func (s *Services) Close() {
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			zap.L().Warn("Failed to close journal publisher", zap.Error(err))
		}
	}
	if s.KV != nil {
		if err := s.KV.Close(); err != nil {
			zap.L().Warn("Failed to close key-value store", zap.Error(err))
		}
	}
	if s.DbService != nil {
		s.DbService.Close()
	}
}
