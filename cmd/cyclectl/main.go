// cyclectl 运维命令行：查看周期、排行与结算门槛
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"CycleOracle/internal/adapter/sportmonks"
	"CycleOracle/internal/chain"
	"CycleOracle/internal/config"
	"CycleOracle/internal/metrics"
	"CycleOracle/internal/repository"
	"CycleOracle/internal/service"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if err := config.EnsureUTC(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL required")
		os.Exit(1)
	}
	// 命令行输出只保留告警以上的日志
	cfg.Log.Level = logrus.WarnLevel.String()
	logger := config.NewLogger(cfg.Log)
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(cfg.Database, cfg.Database.ReportMaxOpenConns, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	store := repository.NewStore(db)

	a := &app{
		store:  store,
		out:    os.Stdout,
		errOut: os.Stderr,
		newGate: func(ctx context.Context) (gateEvaluator, func(), error) {
			m := metrics.NewNop()
			client, err := chain.Dial(ctx, cfg.Chain, logger, m)
			if err != nil {
				return nil, nil, err
			}
			source := sportmonks.New(cfg.SportMonks, m, logger)
			locker := repository.NewLocker(repository.NewLockRepository(db), "cyclectl", logger)
			selector := service.NewMatchSelector(source, store, cfg.Selector, logger)
			fixtureSync := service.NewFixtureSyncService(source, store, logger)
			reconciler := service.NewReconciler(client, store, locker, nil, m, cfg.Reconciler, logger)
			manager := service.NewCycleManager(client, selector, fixtureSync, reconciler, store, locker, nil, m, cfg.Resolver, logger)
			return manager, client.Close, nil
		},
	}
	if err := a.dispatch(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
