package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"caseclosed/backend/internal/cache"
	"caseclosed/backend/internal/config"
	"caseclosed/backend/internal/decision"
	"caseclosed/backend/internal/domain"
	"caseclosed/backend/internal/httpapi"
	"caseclosed/backend/internal/logging"
	"caseclosed/backend/internal/partners"
	"caseclosed/backend/internal/pricing"
	"caseclosed/backend/internal/production"
	"caseclosed/backend/internal/queue"
	"caseclosed/backend/internal/service"
	"caseclosed/backend/internal/simclock"
	"caseclosed/backend/internal/store"
	"caseclosed/backend/internal/store/memory"
	pgstore "caseclosed/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)
	readyChecks := make([]func(context.Context) error, 0, 2)

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatalf("apply schema: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		readyChecks = append(readyChecks, pg.Ping)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	accountCache := cache.AccountCache(cache.NoopAccountCache{})
	tickLocker := cache.Locker(cache.NewLocalLocker())
	if cfg.RedisAddr != "" {
		redisClient := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisClient.Ping(ctx); err != nil {
			logger.WithField("error", err.Error()).Warn("redis unavailable, using noop cache and local tick lock")
			_ = redisClient.Close()
		} else {
			accountCache = redisClient.Accounts()
			tickLocker = redisClient.Locks()
			closers = append(closers, redisClient.Close)
			readyChecks = append(readyChecks, redisClient.Ping)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	pickups := openQueue(cfg, logger)
	closers = append(closers, pickups.Close)

	deps := buildPartners(cfg, logger)

	clock := simclock.NewClock()
	accounts := service.NewAccountDirectory(deps.bank, accountCache, repo, time.Duration(cfg.AccountCacheTTLSeconds)*time.Second, logger)
	calculator := pricing.NewCalculator(repo, cfg.PriceMarkup, cfg.DefaultPlasticCost, cfg.DefaultAluminiumCost)
	svc := service.New(repo, calculator, accounts, deps.bank, clock, service.Options{
		MachineName: cfg.MachineName,
		Logger:      logger,
	})

	engine := decision.NewEngine(decision.Deps{
		Ledger:      repo,
		Bank:        deps.bank,
		Accounts:    accounts,
		Suppliers:   deps.suppliers,
		Catalog:     deps.catalog,
		Pickups:     pickups,
		MachineName: cfg.MachineName,
		Logger:      logger,
	}, cfg.Decision)
	scheduler := simclock.NewScheduler(clock, time.Duration(cfg.SimDaySeconds)*time.Second, tickLocker, logger,
		production.NewSimulator(repo, logger),
		engine,
		production.NewExpiryJob(repo, svc, cfg.OrderExpiryDays, logger),
	)

	retry := partners.Retry{MaxAttempts: cfg.PartnerRetry}
	worker := queue.NewWorker(pickups, repo, deps.logistics, deps.bank, retry, logger)

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.OperatorUsername, cfg.OperatorPassword)
	api := httpapi.New(svc, scheduler, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Logger:        logger,
		Ready:         allReady(readyChecks),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.LogError(logger, "main", "worker.Run", "pickup worker stopped", nil, err)
		}
	}()

	go func() {
		logger.Infof("case-closed backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Error("shutdown error")
	}
	// stop the consumer first so nothing is left waiting on a full pickup queue
	stopRun()
	<-workerDone
	scheduler.Stop()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithField("error", err.Error()).Error("close error")
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.OperatorPassword) < 8 {
		return fmt.Errorf("OPERATOR_PASSWORD must be set and at least 8 characters")
	}
	if cfg.OperatorPassword == cfg.OperatorUsername {
		return fmt.Errorf("OPERATOR_PASSWORD must differ from OPERATOR_USERNAME")
	}
	return nil
}

func openQueue(cfg config.Config, logger logrus.FieldLogger) queue.Queue {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("pickup queue: in-memory")
		return queue.NewMemoryQueue(256)
	}
	logger.WithField("topic", cfg.PickupQueueTopic).Info("pickup queue: kafka")
	return queue.NewKafkaQueue(cfg.KafkaBrokers, cfg.PickupQueueTopic, cfg.PickupQueueGroup)
}

type partnerSet struct {
	bank      partners.Bank
	logistics partners.Logistics
	catalog   partners.EquipmentCatalog
	suppliers []partners.Supplier
}

// buildPartners uses HTTP clients for every configured partner URL and
// in-process simulations for the rest.
func buildPartners(cfg config.Config, logger logrus.FieldLogger) partnerSet {
	retry := partners.Retry{MaxAttempts: cfg.PartnerRetry}
	set := partnerSet{}

	if cfg.BankURL != "" {
		set.bank = partners.NewBankClient(cfg.BankURL, retry, logger)
	} else {
		logger.Warn("BANK_URL not set, using simulated bank")
		set.bank = partners.NewSimulatedBank()
	}

	if cfg.LogisticsURL != "" {
		set.logistics = partners.NewLogisticsClient(cfg.LogisticsURL, retry, logger)
	} else {
		logger.Warn("LOGISTICS_URL not set, using simulated logistics")
		set.logistics = &partners.SimulatedLogistics{}
	}

	if cfg.EquipmentURL != "" {
		set.catalog = partners.NewEquipmentClient(cfg.EquipmentURL, retry, logger)
	} else {
		logger.Warn("EQUIPMENT_URL not set, using simulated equipment catalog")
		set.catalog = &partners.SimulatedCatalog{Offers: []partners.MachineOffer{{
			Name:       cfg.MachineName,
			Price:      decimal.NewFromInt(100_000),
			Available:  10,
			Parameters: domain.DefaultEquipmentParameters,
		}}}
	}

	if len(cfg.SupplierURLs) > 0 {
		names := make([]string, 0, len(cfg.SupplierURLs))
		for name := range cfg.SupplierURLs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			set.suppliers = append(set.suppliers, partners.NewSupplierClient(name, cfg.SupplierURLs[name], retry, logger))
		}
	} else {
		logger.Warn("SUPPLIER_URLS not set, using simulated suppliers")
		set.suppliers = []partners.Supplier{
			&partners.SimulatedSupplier{
				SupplierName: "raw-materials",
				Available:    1_000_000,
				Prices: map[domain.StockType]decimal.Decimal{
					domain.StockPlastic:   decimal.NewFromInt(10),
					domain.StockAluminium: decimal.NewFromInt(12),
				},
			},
			&partners.SimulatedSupplier{
				SupplierName: "recycler",
				Available:    20_000,
				Prices: map[domain.StockType]decimal.Decimal{
					domain.StockPlastic: decimal.NewFromInt(8),
				},
			},
		}
	}
	return set
}

func allReady(checks []func(context.Context) error) func(context.Context) error {
	if len(checks) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
