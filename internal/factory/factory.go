package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"access-verifier/internal/client"
	"access-verifier/internal/config"
	"access-verifier/internal/decision"
	"access-verifier/internal/embedding"
	"access-verifier/internal/guard"
	"access-verifier/internal/ingress"
	"access-verifier/internal/notify"
	"access-verifier/internal/repository/clickhouse"
	"access-verifier/internal/repository/es"
	"access-verifier/internal/repository/scylla"
	"access-verifier/internal/service"
	"access-verifier/internal/session"
	"access-verifier/internal/storage"
	"access-verifier/internal/util"
	"access-verifier/internal/worker"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient       *client.RedisClient
	scyllaClient      *scylla.ScyllaClient
	kafkaProducer     *client.KafkaProducer
	evidenceConsumer  *client.KafkaConsumer
	emergencyConsumer *client.KafkaConsumer
	esClient          *client.ESClient
	clickhouseClient  *client.ClickHouseClient
	s3Client          *client.S3Client

	// Repositories
	employeeRepository scylla.EmployeeDirectory
	auditRepository    *clickhouse.AuditRepository
	embeddingIndex     *es.EmbeddingIndex

	// Core components
	faceClient     *embedding.Client
	imageStore     storage.ImageStore
	sessionStore   *session.Store
	duplicateGuard *guard.DuplicateGuard
	notifier       *notify.KafkaNotifier
	engine         *decision.Engine
	decisionWorker *worker.Worker

	// Services
	reviewService   *service.ReviewService
	employeeService *service.EmployeeService

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

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("unknown_rfid_policy", string(cfg.Verification.UnknownRFID)),
		util.Float64("similarity_threshold", cfg.Verification.SimilarityThreshold),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
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

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("kafka producer: %w", err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}
	if consumer, err := client.NewKafkaConsumer(f.config, f.config.Kafka.EvidenceTopic, f.config.Kafka.ConsumerGroup, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("kafka evidence consumer: %w", err))
	} else {
		f.evidenceConsumer = consumer
	}
	if consumer, err := client.NewKafkaConsumer(f.config, f.config.Kafka.EmergencyTopic, f.config.Kafka.ConsumerGroup+"-emergency", util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("kafka emergency consumer: %w", err))
	} else {
		f.emergencyConsumer = consumer
	}

	// Elasticsearch
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = esClient
		util.Info("Elasticsearch client initialized and healthy")
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	// S3 image store
	if s3Client, err := client.NewS3Client(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("s3: %w", err))
	} else {
		f.s3Client = s3Client
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

// ==============================
// Repositories
// ==============================

func (f *Factory) EmployeeRepository() scylla.EmployeeDirectory {
	if f.employeeRepository == nil {
		f.employeeRepository = scylla.NewEmployeeRepository(f.scyllaClient, util.Get())
	}
	return f.employeeRepository
}

func (f *Factory) AuditRepository() *clickhouse.AuditRepository {
	if f.auditRepository == nil {
		f.auditRepository = clickhouse.NewAuditRepository(f.clickhouseClient, util.Get())
	}
	return f.auditRepository
}

func (f *Factory) EmbeddingIndex() *es.EmbeddingIndex {
	if f.embeddingIndex == nil {
		f.embeddingIndex = es.NewEmbeddingIndex(f.esClient, f.config.Elasticsearch.EmbeddingIndex, util.Get())
	}
	return f.embeddingIndex
}

// ==============================
// Core components
// ==============================

func (f *Factory) FaceClient() *embedding.Client {
	if f.faceClient == nil {
		f.faceClient = embedding.NewClient(f.config, util.Get())
	}
	return f.faceClient
}

func (f *Factory) ImageStore() storage.ImageStore {
	if f.imageStore == nil {
		f.imageStore = storage.NewS3ImageStore(f.s3Client, util.Get())
	}
	return f.imageStore
}

func (f *Factory) SessionStore() *session.Store {
	if f.sessionStore == nil {
		f.sessionStore = session.NewStore(util.Get())
	}
	return f.sessionStore
}

func (f *Factory) DuplicateGuard() *guard.DuplicateGuard {
	if f.duplicateGuard == nil {
		// Decided marks outlive the session window so straggling
		// evidence still gets dropped.
		decidedTTL := 10 * f.config.Verification.SessionTimeout
		f.duplicateGuard = guard.NewDuplicateGuard(f.redisClient, decidedTTL, util.Get())
	}
	return f.duplicateGuard
}

func (f *Factory) Notifier() *notify.KafkaNotifier {
	if f.notifier == nil {
		f.notifier = notify.NewKafkaNotifier(f.kafkaProducer, f.AuditRepository(), f.config, util.Get())
	}
	return f.notifier
}

func (f *Factory) Engine() *decision.Engine {
	if f.engine == nil {
		f.engine = decision.NewEngine(
			f.EmbeddingIndex(),
			f.AuditRepository(),
			f.Notifier(),
			f.Notifier(),
			f.EmployeeRepository(),
			f.config.Verification,
			util.Get(),
		)
	}
	return f.engine
}

func (f *Factory) Worker() *worker.Worker {
	if f.decisionWorker == nil {
		f.decisionWorker = worker.NewWorker(
			f.SessionStore(),
			f.DuplicateGuard(),
			f.Engine(),
			f.config.Verification,
			util.Get(),
		)
	}
	return f.decisionWorker
}

func (f *Factory) EvidenceConsumer() *ingress.EvidenceConsumer {
	return ingress.NewEvidenceConsumer(
		f.evidenceConsumer,
		f.SessionStore(),
		f.DuplicateGuard(),
		f.EmployeeRepository(),
		f.FaceClient(),
		f.ImageStore(),
		util.Get(),
	)
}

func (f *Factory) EmergencyConsumer() *ingress.EmergencyConsumer {
	return ingress.NewEmergencyConsumer(
		f.emergencyConsumer,
		f.Notifier(),
		f.Notifier(),
		f.Worker(),
		f.config.Verification,
		util.Get(),
	)
}

// ==============================
// Services
// ==============================

func (f *Factory) ReviewService() *service.ReviewService {
	if f.reviewService == nil {
		f.reviewService = service.NewReviewService(
			f.AuditRepository(),
			f.ImageStore(),
			f.Notifier(),
			f.Notifier(),
			util.Get(),
		)
	}
	return f.reviewService
}

func (f *Factory) EmployeeService() *service.EmployeeService {
	if f.employeeService == nil {
		f.employeeService = service.NewEmployeeService(
			f.EmployeeRepository(),
			f.EmbeddingIndex(),
			f.FaceClient(),
			util.Get(),
		)
	}
	return f.employeeService
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	} else {
		healthErrors["elasticsearch"] = fmt.Errorf("elasticsearch client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.faceClient != nil {
		if err := f.faceClient.HealthCheck(ctx); err != nil {
			healthErrors["face_service"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "face_service")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.evidenceConsumer != nil {
			if err := f.evidenceConsumer.Close(); err != nil {
				util.Error("Failed to close evidence consumer", util.ErrorField(err))
			}
		}
		if f.emergencyConsumer != nil {
			if err := f.emergencyConsumer.Close(); err != nil {
				util.Error("Failed to close emergency consumer", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

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

func (f *Factory) Config() *config.Config {
	return f.config
}
