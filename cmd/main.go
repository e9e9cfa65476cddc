package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CycleOracle/internal/adapter/sportmonks"
	"CycleOracle/internal/api"
	"CycleOracle/internal/chain"
	"CycleOracle/internal/config"
	"CycleOracle/internal/listener"
	"CycleOracle/internal/metrics"
	"CycleOracle/internal/notify"
	"CycleOracle/internal/repository"
	"CycleOracle/internal/scheduler"
	"CycleOracle/internal/service"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. 加载配置文件，进程时区固定为 UTC
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}
	if err := config.EnsureUTC(); err != nil {
		log.Fatalf("时区检查失败: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}

	// 2. 初始化日志与指标
	logger := config.NewLogger(cfg.Log)
	logger.Info("配置文件加载成功")
	m := metrics.NewDefault()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, m, logger); err != nil {
		logger.WithError(err).Error("进程异常退出")
		os.Exit(1)
	}
	logger.Info("进程已退出")
}

func run(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *logrus.Logger) error {
	// 3. PostgreSQL：任务使用主连接池，运维查询使用独立的小连接池
	db, err := repository.Open(cfg.Database, 0, logger)
	if err != nil {
		return err
	}
	if err := repository.Migrate(db); err != nil {
		return err
	}
	logger.Info("数据库表结构检查完成（不存在则已创建）")
	reportDB, err := repository.Open(cfg.Database, cfg.Database.ReportMaxOpenConns, logger)
	if err != nil {
		return err
	}
	reportSQL, err := reportDB.DB()
	if err != nil {
		return fmt.Errorf("获取SQL DB失败: %w", err)
	}
	store := repository.NewStore(db)
	reportStore := repository.NewStore(reportDB)

	// 4. 链上合约与赛事数据源
	client, err := chain.Dial(ctx, cfg.Chain, logger, m)
	if err != nil {
		return err
	}
	defer client.Close()
	source := sportmonks.New(cfg.SportMonks, m, logger)

	publisher := notify.New(cfg.Notify, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.WithError(err).Warn("关闭领域事件投递失败")
		}
	}()

	holder := cfg.Scheduler.HolderID
	if holder == "" {
		host, _ := os.Hostname()
		holder = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	locker := repository.NewLocker(repository.NewLockRepository(db), holder, logger)
	logger.WithField("holder", holder).Info("任务锁持有者")

	// 5. 业务服务
	selector := service.NewMatchSelector(source, store, cfg.Selector, logger)
	fixtureSync := service.NewFixtureSyncService(source, store, logger)
	reconciler := service.NewReconciler(client, store, locker, publisher, m, cfg.Reconciler, logger)
	manager := service.NewCycleManager(client, selector, fixtureSync, reconciler, store, locker, publisher, m, cfg.Resolver, logger)
	evaluator := service.NewSlipEvaluator(client, store, publisher, m, logger)

	// 6. 调度器与任务
	sched := scheduler.New(locker, cfg.Scheduler, m, logger)
	jobs := map[string]scheduler.JobFunc{
		config.JobOpenCycle: func(ctx context.Context) error {
			day := time.Now().UTC().AddDate(0, 0, cfg.Selector.OpenDayOffset)
			_, err := manager.OpenCycle(ctx, day)
			return err
		},
		config.JobPollFixtureState: func(ctx context.Context) error {
			_, err := fixtureSync.PollStates(ctx)
			return err
		},
		config.JobFetchResults: func(ctx context.Context) error {
			_, err := fixtureSync.FetchResults(ctx)
			return err
		},
		config.JobAttemptResolution: func(ctx context.Context) error {
			_, err := manager.AttemptResolution(ctx)
			return err
		},
		config.JobEvaluateSlips: func(ctx context.Context) error {
			_, err := evaluator.EvaluatePending(ctx)
			return err
		},
		config.JobReconcileChain: func(ctx context.Context) error {
			_, err := reconciler.ReconcileChain(ctx)
			return err
		},
	}
	for name, fn := range jobs {
		if err := sched.Register(name, fn); err != nil {
			return err
		}
	}
	manager.SetEvaluationTrigger(sched)
	reconciler.SetEvaluationTrigger(sched)

	// 7. 事件索引
	indexer := listener.NewIndexer(client, client, reconciler, store, locker, publisher, m, cfg.Indexer, logger)
	indexer.SetEvaluationTrigger(sched)

	// 8. 运维 HTTP（pprof 方便调试和监测性能问题）
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	pprof.Register(r)
	api.NewOpsHandler(reportStore, client, manager, reconciler, sched, reportSQL, logger).Register(r, m.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 9. 启动：任一组件返回错误时整体退出
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("运维服务启动成功，端口：%d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("启动服务失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return indexer.Run(gctx)
	})
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
