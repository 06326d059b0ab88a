package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wisefido-risk/internal/config"
	"wisefido-risk/internal/consumer"
	"wisefido-risk/internal/database"
	"wisefido-risk/internal/evaluator"
	httpapi "wisefido-risk/internal/http"
	"wisefido-risk/internal/models"
	"wisefido-risk/internal/mqtt"
	"wisefido-risk/internal/notifier"
	rediscommon "wisefido-risk/internal/redis"
	"wisefido-risk/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// httpShutdownTimeout HTTP 服务停机等待时间
const httpShutdownTimeout = 10 * time.Second

// RiskService 风险服务（整合各层）
type RiskService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	// 各层组件
	engine          *RiskEngine
	lifecycle       *AlertLifecycle
	sweeper         *consumer.SLASweeper
	messageConsumer *consumer.MessageConsumer
	router          *httpapi.Router
	server          *http.Server
}

// NewRiskService 创建风险服务
// Redis 地址为空时不启用租约、审计流和聊天消费者
func NewRiskService(cfg *config.Config, logger *zap.Logger) (*RiskService, error) {
	s := &RiskService{config: cfg, logger: logger}
	ctx := context.Background()

	// 1. 存储层
	var (
		alerts      repository.AlertStore
		assessments repository.AssessmentStore
		auditStore  interface {
			repository.AuditSink
			repository.AuditReader
		}
	)
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		s.db = db
		alerts = repository.NewAlertsRepository(db, logger)
		assessments = repository.NewAssessmentsRepository(db, logger)
		auditStore = repository.NewAuditRepository(db, logger)
	default:
		logger.Warn("Using in-memory storage, alerts are lost on restart")
		alerts = repository.NewMemoryAlertsRepository()
		assessments = repository.NewMemoryAssessmentsRepository()
		auditStore = repository.NewMemoryAuditRepository()
	}

	// 2. Redis
	if cfg.Redis.Addr != "" {
		s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, s.redisClient); err != nil {
			s.Stop()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	} else if cfg.Risk.Streams.ChatEnabled {
		s.Stop()
		return nil, errors.New("chat consumer requires REDIS_ADDR")
	}

	// 3. MQTT（应用内通知）
	if cfg.Risk.Notify.MQTTEnabled {
		client, err := mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.Stop()
			return nil, err
		}
		s.mqttClient = client
	}

	// 4. 通知与审计
	n := s.buildNotifier()

	audit := repository.MultiAuditSink{auditStore}
	if s.redisClient != nil && cfg.Risk.Streams.AuditStream != "" {
		audit = append(audit, repository.NewStreamAuditSink(s.redisClient, cfg.Risk.Streams.AuditStream))
	}

	// 5. 引擎
	s.lifecycle = NewAlertLifecycle(alerts, n, audit, logger, LifecycleOptions{
		SweepConcurrency: cfg.Risk.Sweep.Concurrency,
		DispatchTimeout:  cfg.Risk.Sweep.DispatchTimeout,
	})
	s.engine = NewRiskEngine(
		evaluator.NewPatternScorer(cfg.Risk.Scoring.MaxTextLength),
		s.lifecycle,
		assessments,
		auditStore,
		logger,
	)

	// 6. 后台任务
	if cfg.Risk.Sweep.Enabled {
		var state *consumer.StateManager
		if s.redisClient != nil {
			state = consumer.NewStateManager(s.redisClient, logger)
		}
		s.sweeper = consumer.NewSLASweeper(s.engine, state, consumer.SweeperOptions{
			Interval:      cfg.Risk.Sweep.Interval,
			LeaseTTL:      cfg.Risk.Sweep.LeaseTTL,
			ShutdownGrace: cfg.Risk.Sweep.ShutdownGrace,
			LeaseKey:      cfg.Risk.Sweep.LeaseKey,
			CheckpointKey: cfg.Risk.Sweep.CheckpointKey,
			Owner:         fmt.Sprintf("%s-%s", cfg.Risk.Streams.ChatConsumer, uuid.NewString()[:8]),
		}, logger)
	}
	if cfg.Risk.Streams.ChatEnabled {
		s.messageConsumer = consumer.NewMessageConsumer(s.redisClient, s.engine, consumer.MessageConsumerOptions{
			Stream:          cfg.Risk.Streams.ChatStream,
			Group:           cfg.Risk.Streams.ChatGroup,
			Consumer:        cfg.Risk.Streams.ChatConsumer,
			BatchSize:       cfg.Risk.Streams.BatchSize,
			BlockTime:       cfg.Risk.Streams.BlockTime,
			PendingInterval: cfg.Risk.Streams.PendingInterval,
			RetryDelay:      cfg.Risk.Streams.RetryDelay,
			HistoryKey:      cfg.Risk.Streams.HistoryKey,
			HistorySize:     cfg.Risk.Scoring.HistorySize,
		}, logger)
	}

	// 7. HTTP
	s.router = httpapi.NewRouter(logger)
	s.router.RegisterRiskRoutes(httpapi.NewRiskHandler(s.engine, logger))
	s.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s, nil
}

// buildNotifier email/sms 走网关，in_app 走 MQTT，其余记录日志
func (s *RiskService) buildNotifier() notifier.Notifier {
	router := notifier.NewChannelRouter(notifier.NewLogNotifier(s.logger))

	if url := s.config.Risk.Notify.WebhookURL; url != "" {
		webhook := notifier.NewWebhookNotifier(url, s.config.Risk.Notify.WebhookTimeout, s.config.Risk.Notify.WebhookRetries, s.logger)
		router.Route(models.ChannelEmail, webhook).Route(models.ChannelSMS, webhook)
	}
	if s.mqttClient != nil {
		router.Route(models.ChannelInApp, notifier.NewMQTTNotifier(s.mqttClient, s.config.Risk.Notify.MQTTTopic))
	}
	return router
}

// Engine 风险引擎
func (s *RiskService) Engine() *RiskEngine {
	return s.engine
}

// Handler HTTP 路由
func (s *RiskService) Handler() http.Handler {
	return s.router
}

// Start 启动服务（阻塞，ctx 取消或任一组件失败后返回）
func (s *RiskService) Start(ctx context.Context) error {
	s.logger.Info("Starting risk service",
		zap.String("storage", s.config.Storage.Driver),
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.Bool("sweep", s.sweeper != nil),
		zap.Bool("chat_consumer", s.messageConsumer != nil),
	)

	g, gctx := errgroup.WithContext(ctx)

	if s.sweeper != nil {
		g.Go(func() error {
			return s.sweeper.Start(gctx)
		})
	}
	if s.messageConsumer != nil {
		g.Go(func() error {
			if err := s.messageConsumer.Start(gctx); err != nil {
				return fmt.Errorf("failed to start chat consumer: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shut down HTTP server", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// Stop 关闭外部连接（在 Start 返回后调用）
func (s *RiskService) Stop() error {
	s.logger.Info("Stopping risk service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
		s.mqttClient = nil
	}

	// 关闭 Redis 连接
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
		s.redisClient = nil
	}

	// 关闭数据库连接
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
		s.db = nil
	}

	return nil
}
