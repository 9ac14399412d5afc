// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/handler"
	"gym-coach-go/internal/middleware"
	"gym-coach-go/internal/pipeline"
	"gym-coach-go/internal/repository"
	"gym-coach-go/internal/service"
	"gym-coach-go/pkg/backend"
	"gym-coach-go/pkg/database"
	"gym-coach-go/pkg/embedding"
	"gym-coach-go/pkg/kafka"
	"gym-coach-go/pkg/llm"
	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/retry"
	"gym-coach-go/pkg/storage"
	"gym-coach-go/pkg/tika"
	"gym-coach-go/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	if cfg.JWT.Secret == "" {
		log.Fatalf("jwt.secret 未配置")
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. 初始化 Redis、向量索引与可选的 MySQL
	rdb, err := database.OpenRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatalf("Redis 连接失败: %v", err)
	}
	defer rdb.Close()

	vectors, err := repository.NewVectorRepository(rootCtx, cfg)
	if err != nil {
		log.Fatalf("向量索引初始化失败: %v", err)
	}

	var db *gorm.DB
	var syncRepo repository.SyncRepository
	if cfg.Database.MySQL.DSN != "" {
		db, err = database.OpenMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			log.Fatalf("MySQL 连接失败: %v", err)
		}
		syncRepo = repository.NewSyncRepository(db)
	} else {
		log.Warnf("未配置 MySQL，同步记录不会被保存")
	}

	// 4. 初始化外部客户端
	retryPolicy := retry.FromConfig(cfg.Retry, 0)
	cache, err := embedding.NewCache(cfg.Embedding.CacheCapacity)
	if err != nil {
		log.Fatalf("embedding 缓存初始化失败: %v", err)
	}
	embeddingService := embedding.NewService(embedding.NewOpenAIProvider(cfg.Embedding), cache, cfg.Embedding.Dimensions, retryPolicy)
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		log.Fatalf("LLM 客户端初始化失败: %v", err)
	}
	backendClient := backend.NewClient(cfg.Backend, retryPolicy)

	var knowledge service.KnowledgeSource
	if cfg.MinIO.Endpoint != "" {
		store, err := storage.NewKnowledgeStore(rootCtx, cfg.MinIO)
		if err != nil {
			log.Fatalf("MinIO 初始化失败: %v", err)
		}
		knowledge = store
	}
	var extractor service.TextExtractor
	if cfg.Tika.ServerURL != "" {
		extractor = tika.NewClient(cfg.Tika)
	}

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.ServiceTokenExpireMinute)
	sessionRepo := repository.NewSessionRepository(rdb, cfg.Session)
	toolService := service.NewToolService(embeddingService, vectors, cfg.Vector)
	chatService := service.NewChatService(llmClient, toolService, sessionRepo, service.ChatOptions{
		LLM:          cfg.LLM,
		Session:      cfg.Session,
		Orchestrator: cfg.Orchestrator,
		Retry:        retryPolicy,
	})
	sessionService := service.NewSessionService(sessionRepo)
	authService := service.NewServiceAuthService(cfg.ServiceAccounts, jwtManager)
	syncService := service.NewSyncService(backendClient, embeddingService, vectors, syncRepo, knowledge, extractor)

	// 6. 启动后台 Kafka 消费者
	var publisher handler.TaskPublisher
	consumerDone := make(chan struct{})
	if kafka.Enabled(cfg.Kafka) {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		publisher = producer

		consumer := kafka.NewConsumer(cfg.Kafka, rdb, pipeline.NewProcessor(syncService))
		go func() {
			consumer.Run(rootCtx)
			close(consumerDone)
		}()
	} else {
		log.Warnf("未配置 Kafka，同步只能通过管理接口或 cmd/sync 触发")
		close(consumerDone)
	}

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	checks := map[string]handler.Check{
		"redis":  sessionRepo.Ping,
		"vector": vectors.Ping,
	}
	if db != nil {
		checks["mysql"] = func(context.Context) error { return database.PingMySQL(db) }
	}
	handler.RegisterRoutes(r, handler.Handlers{
		Chat:    handler.NewChatHandler(chatService, toolService, jwtManager),
		Session: handler.NewSessionHandler(sessionService),
		Auth:    handler.NewAuthHandler(authService),
		Admin:   handler.NewAdminHandler(syncService, publisher, embeddingService),
		Health:  handler.NewHealthHandler(checks),
	}, jwtManager)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止 Kafka 消费者
	stop()
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}
	log.Info("服务已优雅关闭")
}
