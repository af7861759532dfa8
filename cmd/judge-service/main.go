package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"arbiter/internal/common/cache"
	"arbiter/internal/common/db"
	"arbiter/internal/common/mq"
	"arbiter/internal/common/storage"
	judgecontroller "arbiter/internal/judge/controller"
	"arbiter/internal/judge/queue"
	judgerepo "arbiter/internal/judge/repository"
	"arbiter/internal/judge/runner"
	judgeservice "arbiter/internal/judge/service"
	statsrepo "arbiter/internal/stats/repository"
	"arbiter/internal/stream"
	submitcontroller "arbiter/internal/submit/controller"
	submitrepo "arbiter/internal/submit/repository"
	submitservice "arbiter/internal/submit/service"
	"arbiter/pkg/utils/logger"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	runnerClient, err := runner.NewClient(appCfg.Runner)
	if err != nil {
		logger.Error(context.Background(), "init runner client failed", zap.Error(err))
		return
	}

	if appCfg.Payload.Bucket == "" {
		appCfg.Payload.Bucket = appCfg.MinIO.Bucket
	}
	builder := judgeservice.NewPayloadBuilder(objStorage, appCfg.Payload)
	tracking := judgerepo.NewTrackingRepository(redisCache, appCfg.Tracking.TTL)
	finalizeQueue := queue.NewFinalizeQueue(redisCache, appCfg.Queue)
	scheduler := judgeservice.NewFinalizeScheduler(redisCache, finalizeQueue, appCfg.Scheduler)
	processor := judgeservice.NewCallbackProcessor(tracking, scheduler)
	judgeSvc := judgeservice.NewJudgeService(builder, tracking, runnerClient, appCfg.Dispatch)

	submissionRepo := submitrepo.NewSubmissionRepository(mysqlDB)
	problemRepo := submitrepo.NewProblemRepository(mysqlDB)
	progress := statsrepo.NewProgressRepository(redisCache)
	events := judgeservice.NewMQEventPublisher(mqClient, appCfg.Topics)

	worker := judgeservice.NewFinalizeWorker(
		finalizeQueue, tracking, scheduler, runnerClient,
		submissionRepo, events, progress, redisCache,
		judgeservice.WorkerConfig{PollInterval: appCfg.Finalize.PollInterval})

	hub := stream.NewHub(appCfg.Stream)
	bridge := stream.NewBridge(redisCache, hub)

	submitSvc := submitservice.NewSubmitService(submissionRepo, problemRepo, judgeSvc, redisCache, appCfg.Submit)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var wg sync.WaitGroup
	for i := 0; i < appCfg.Finalize.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(workerCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := bridge.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(context.Background(), "verdict bridge stopped", zap.Error(err))
		}
	}()

	httpServer := buildHTTPServer(appCfg.Server, submitSvc, processor, hub)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	stopWorkers()
	wg.Wait()
}

func buildHTTPServer(cfg ServerConfig, submitSvc *submitservice.SubmitService, processor *judgeservice.CallbackProcessor, hub *stream.Hub) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	submitcontroller.NewSubmitController(submitSvc).RegisterRoutes(router)
	judgecontroller.NewCallbackController(processor).RegisterRoutes(router)
	stream.NewWSHandler(hub).RegisterRoutes(router)

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
