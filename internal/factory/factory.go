package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kisman271128/salesman-dashboard/internal/audit"
	"github.com/kisman271128/salesman-dashboard/internal/bucketing"
	"github.com/kisman271128/salesman-dashboard/internal/client"
	"github.com/kisman271128/salesman-dashboard/internal/config"
	"github.com/kisman271128/salesman-dashboard/internal/repository/local"
	redisrepo "github.com/kisman271128/salesman-dashboard/internal/repository/redis"
	"github.com/kisman271128/salesman-dashboard/internal/repository/scylla"
	"github.com/kisman271128/salesman-dashboard/internal/service"
	"github.com/kisman271128/salesman-dashboard/internal/store"
	"github.com/kisman271128/salesman-dashboard/internal/tls"
	"github.com/kisman271128/salesman-dashboard/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	bucketingManager *bucketing.BucketingManager

	// Storage tiers
	deviceRepository *scylla.DeviceRepository
	localStore       *local.FileDeviceStore
	tieredStore      *store.TieredDeviceStore

	// Services
	limiter        *redisrepo.ValidationLimiter
	auditPublisher *audit.Publisher
	deviceService  *service.DeviceService
	searchService  *service.DeviceSearchService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeStores(); err != nil {
		return nil, fmt.Errorf("failed to initialize stores: %w", err)
	}

	factory.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Int("max_devices", cfg.Device.MaxDevices),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// ScyllaDB is the authoritative device tier
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Redis backs the validation-attempt limiter; the service degrades to
	// unlimited attempts without it
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		util.Warn("Redis initialization failed - proceeding without rate limiting", util.ErrorField(err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			util.Warn("Redis health check failed", util.ErrorField(err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// Kafka carries the device audit topic
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch backs the admin device search
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - proceeding without device search", util.ErrorField(err))
	} else {
		f.esClient = esClient
		util.Info("Elasticsearch client initialized and healthy")
	}

	// ClickHouse stores decision analytics
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("ClickHouse initialization failed - proceeding without analytics", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			util.Warn("ClickHouse health check failed", util.ErrorField(err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeStores wires the remote and local device tiers behind the
// failover adapter
func (f *Factory) initializeStores() error {
	if f.scyllaClient != nil {
		f.deviceRepository = scylla.NewDeviceRepository(f.scyllaClient, util.Get())
	}

	localStore, err := local.NewFileDeviceStore(f.config.Device.LocalStoreDir)
	if err != nil {
		return fmt.Errorf("local device store: %w", err)
	}
	f.localStore = localStore

	if f.deviceRepository == nil {
		return fmt.Errorf("remote device store unavailable and required")
	}

	f.tieredStore = store.NewTieredDeviceStore(f.deviceRepository, f.localStore)
	return nil
}

func (f *Factory) initializeServices() {
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	if f.redisClient != nil {
		f.limiter = redisrepo.NewValidationLimiter(f.redisClient, f.config.Device)
	}

	f.auditPublisher = audit.NewPublisher(
		f.kafkaProducer,
		f.clickhouseClient,
		f.esClient,
		f.bucketingManager,
		f.config,
	)

	var limiter service.AttemptLimiter
	if f.limiter != nil {
		limiter = f.limiter
	}

	f.deviceService = service.NewDeviceService(
		f.tieredStore,
		f.tieredStore,
		limiter,
		f.auditPublisher,
		f.config.Device,
	)

	if f.esClient != nil {
		f.searchService = service.NewDeviceSearchService(f.esClient, f.config)
	}

	util.Info("Services initialized successfully",
		util.Bool("rate_limiting", f.limiter != nil),
		util.Bool("device_search", f.searchService != nil),
		util.Bool("audit_kafka", f.kafkaProducer != nil),
		util.Bool("audit_clickhouse", f.clickhouseClient != nil),
	)
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
	)
	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			healthErrors[name] = err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if f.scyllaClient != nil {
		g.Go(func() error {
			record("scylla", f.scyllaClient.HealthCheck())
			return nil
		})
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.redisClient != nil {
		g.Go(func() error {
			record("redis", f.redisClient.HealthCheck(ctx))
			return nil
		})
	}

	if f.esClient != nil {
		g.Go(func() error {
			record("elasticsearch", f.esClient.HealthCheck())
			return nil
		})
	}

	if f.clickhouseClient != nil {
		g.Go(func() error {
			record("clickhouse", f.clickhouseClient.HealthCheck(ctx))
			return nil
		})
	}

	if f.kafkaProducer != nil {
		g.Go(func() error {
			record("kafka", f.kafkaProducer.HealthCheck(ctx))
			return nil
		})
	}

	g.Wait()
	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	// Only the authoritative tier is load-bearing for health
	_, scyllaDown := healthErrors["scylla"]
	return !scyllaDown
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) DeviceService() *service.DeviceService {
	return f.deviceService
}

func (f *Factory) SearchService() *service.DeviceSearchService {
	return f.searchService
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
