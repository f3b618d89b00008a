package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gavel/internal/common/cache"
	"gavel/internal/common/db"
	"gavel/internal/common/mq"
	"gavel/internal/common/storage"
	"gavel/internal/judge/catalog"
	"gavel/internal/judge/controller"
	"gavel/internal/judge/dispatcher"
	"gavel/internal/judge/maintenance"
	"gavel/internal/judge/repository"
	"gavel/internal/judge/runner"
	"gavel/internal/judge/sandbox"
	"gavel/internal/judge/service"
	"gavel/pkg/utils/logger"
)

const defaultConfigPath = "configs/judged.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}

	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx := context.Background()

	mysqlDB, err := db.NewMySQLWithConfig(&cfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(&cfg.Kafka)
	if err != nil {
		logger.Error(ctx, "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	var archive *repository.SourceArchive
	if cfg.Archive.Enabled {
		objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			logger.Error(ctx, "init minio failed", zap.Error(err))
			return
		}
		archive = repository.NewSourceArchive(objStorage, cfg.Archive.Bucket)
	}

	var eventLog repository.EventLogRepository
	if cfg.Events.DurableLog {
		eventLog = repository.NewEventLogRepository(mysqlDB)
	}
	events := repository.NewMQEventPublisher(mqClient, cfg.Events.Topic, eventLog)

	submissionRepo := repository.NewSubmissionRepository(mysqlDB, redisCache)
	queueRepo := repository.NewQueueRepository(mysqlDB)
	executionRepo := repository.NewExecutionRepository(mysqlDB)
	problemCatalog := catalog.NewMySQLCatalog(mysqlDB, redisCache)

	executor, err := sandbox.NewRemoteExecutor(cfg.Sandbox)
	if err != nil {
		logger.Error(ctx, "init sandbox failed", zap.Error(err))
		return
	}
	caseRunner := runner.NewCaseRunner(executor)

	var limiter *service.SubmitRateLimiter
	if cfg.RateLimit.Enabled {
		limiter = service.NewSubmitRateLimiter(redisCache, cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}

	submitSvc, err := service.NewSubmitService(service.SubmitServiceConfig{
		Tx:          mysqlDB,
		Submissions: submissionRepo,
		Queue:       queueRepo,
		Catalog:     problemCatalog,
		Events:      events,
		Archive:     archive,
		Limiter:     limiter,
		Cache:       redisCache,
	})
	if err != nil {
		logger.Error(ctx, "init submit service failed", zap.Error(err))
		return
	}

	judgeSvc, err := service.NewJudgeService(service.JudgeServiceConfig{
		Submissions: submissionRepo,
		Queue:       queueRepo,
		Catalog:     problemCatalog,
		Runner:      caseRunner,
		Events:      events,
	})
	if err != nil {
		logger.Error(ctx, "init judge service failed", zap.Error(err))
		return
	}

	executeSvc, err := service.NewExecuteService(executionRepo, executor)
	if err != nil {
		logger.Error(ctx, "init execute service failed", zap.Error(err))
		return
	}

	pool, err := dispatcher.New(cfg.Dispatcher, judgeSvc, queueRepo, submissionRepo)
	if err != nil {
		logger.Error(ctx, "init dispatcher failed", zap.Error(err))
		return
	}
	if err := pool.Start(ctx); err != nil {
		logger.Error(ctx, "start dispatcher failed", zap.Error(err))
		return
	}

	janitor, err := maintenance.New(cfg.Maintenance, queueRepo, submissionRepo, executionRepo, events)
	if err != nil {
		logger.Error(ctx, "init maintenance failed", zap.Error(err))
		return
	}
	if err := janitor.Start(ctx); err != nil {
		logger.Error(ctx, "start maintenance failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(cfg.Server, submitSvc, executeSvc)
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judged http server started", zap.String("addr", cfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(stopCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if err := pool.Stop(stopCtx); err != nil {
		logger.Error(ctx, "dispatcher stop failed", zap.Error(err))
	}
	if err := janitor.Stop(stopCtx); err != nil {
		logger.Error(ctx, "maintenance stop failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg ServerConfig, submitSvc *service.SubmitService, executeSvc *service.ExecuteService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	ctl := controller.NewJudgeController(submitSvc, executeSvc)
	ctl.RegisterRoutes(router)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
