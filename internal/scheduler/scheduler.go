// Package scheduler 定时任务编排：cron 触发，任务锁、超时与看门狗保护每次运行
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"CycleOracle/internal/config"
	"CycleOracle/internal/interfaces"
	"CycleOracle/internal/metrics"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// 看门狗触发时的退出码，由进程管理器重启
const watchdogExitCode = 3

const (
	defaultJobTimeout = 5 * time.Minute
	evaluationBacklog = 64
)

// JobFunc 任务体；须遵守 ctx 的截止时间
type JobFunc func(ctx context.Context) error

// Outcome 一次运行的结果（即 job_runs_total 的 outcome 标签）
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeError          Outcome = "error"
	OutcomeFatal          Outcome = "fatal"
	OutcomeSkippedLocked  Outcome = "skipped_locked"
	OutcomeSkippedRunning Outcome = "skipped_running"
)

var (
	// ErrUnknownJob 未注册的任务名
	ErrUnknownJob = errors.New("unknown job")
	// ErrStopped 调度器已停止，不再接受手动触发
	ErrStopped = errors.New("scheduler stopped")
)

type job struct {
	name    string
	spec    string
	timeout time.Duration
	fn      JobFunc
	running atomic.Bool
}

// Scheduler 任务调度器
type Scheduler struct {
	cron    *cron.Cron
	locker  interfaces.Locker
	cfg     config.SchedulerConfig
	metrics *metrics.Metrics
	logger  *logrus.Logger

	mu      sync.RWMutex
	jobs    map[string]*job
	stopped bool // 置位后 Trigger 不再 wg.Add

	evalQueue chan int64
	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	drainWG   sync.WaitGroup

	exit func(code int)
}

// New 创建调度器；cron 支持秒字段，按 UTC 解释
func New(locker interfaces.Locker, cfg config.SchedulerConfig, m *metrics.Metrics, logger *logrus.Logger) *Scheduler {
	if cfg.LockGrace <= 0 {
		cfg.LockGrace = time.Minute
	}
	if cfg.WatchdogGrace <= 0 {
		cfg.WatchdogGrace = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.PrintfLogger(logger))),
		),
		locker:    locker,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		jobs:      make(map[string]*job),
		evalQueue: make(chan int64, evaluationBacklog),
		baseCtx:   ctx,
		cancel:    cancel,
		exit:      os.Exit,
	}
}

// Register 注册任务；配置了 cron 表达式的按表达式调度，否则只能手动触发
func (s *Scheduler) Register(name string, fn JobFunc) error {
	jc := s.cfg.Jobs[name]
	j := &job{name: name, spec: jc.Cron, timeout: jc.Timeout, fn: fn}
	if j.timeout <= 0 {
		j.timeout = defaultJobTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	if j.spec != "" {
		if _, err := s.cron.AddFunc(j.spec, func() { s.Run(s.baseCtx, name) }); err != nil {
			return fmt.Errorf("job %s: invalid cron %q: %w", name, j.spec, err)
		}
	}
	s.jobs[name] = j
	s.logger.WithFields(logrus.Fields{
		"job":     name,
		"cron":    j.spec,
		"timeout": j.timeout,
	}).Info("任务已注册")
	return nil
}

// Jobs 已注册的任务名
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start 启动 cron 与评估队列
func (s *Scheduler) Start() {
	s.drainWG.Add(1)
	go s.drainEvaluations()
	s.cron.Start()
	s.logger.WithField("jobs", s.Jobs()).Info("调度器已启动")
}

// Stop 停止触发新任务并等待运行中的任务返回
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.cancel()
	s.drainWG.Wait()
	s.logger.Info("调度器已停止")
}

// Trigger 在后台运行一次任务，经过同样的锁与超时保护
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	if _, ok := s.jobs[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.Run(s.baseCtx, name)
	}()
	return nil
}

// RequestEvaluation 索引器或结算完成后请求评估；队列满时由定时任务兜底
func (s *Scheduler) RequestEvaluation(cycleID int64) {
	select {
	case s.evalQueue <- cycleID:
	default:
		s.logger.WithField("cycle_id", cycleID).Warn("评估队列已满，等待定时评估任务")
	}
}

func (s *Scheduler) drainEvaluations() {
	defer s.drainWG.Done()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case cycleID := <-s.evalQueue:
			// 积压的请求合并为一次运行，评估任务处理所有待评估周期
			pending := 0
		drain:
			for {
				select {
				case <-s.evalQueue:
					pending++
				default:
					break drain
				}
			}
			s.logger.WithFields(logrus.Fields{"cycle_id": cycleID, "merged": pending}).Info("事件触发评估")
			s.Run(s.baseCtx, config.JobEvaluateSlips)
		}
	}
}

func (s *Scheduler) lookup(name string) *job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[name]
}

// Run 同步运行一次任务：本地防重入 → 任务锁 → 截止时间 → 运行 → 释放
func (s *Scheduler) Run(ctx context.Context, name string) Outcome {
	j := s.lookup(name)
	if j == nil {
		s.logger.WithField("job", name).Error("任务未注册")
		return OutcomeError
	}
	entry := s.logger.WithField("job", name)

	if !j.running.CompareAndSwap(false, true) {
		entry.Info("上一次运行尚未结束，跳过")
		s.observe(name, OutcomeSkippedRunning)
		return OutcomeSkippedRunning
	}
	defer j.running.Store(false)

	release, ok, err := s.locker.TryLock(ctx, repository.JobLockName(name), j.timeout+s.cfg.LockGrace)
	if err != nil {
		entry.WithError(err).Error("获取任务锁失败")
		s.observe(name, OutcomeError)
		return OutcomeError
	}
	if !ok {
		entry.Info("任务锁被其他实例持有，跳过")
		s.observe(name, OutcomeSkippedLocked)
		return OutcomeSkippedLocked
	}
	defer release()

	runID := uuid.NewString()
	entry = entry.WithField("run_id", runID)

	jobCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go s.watchdog(jobCtx, done, entry)

	start := time.Now()
	entry.Debug("任务开始")
	err = j.fn(jobCtx)
	elapsed := time.Since(start)
	s.metrics.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	outcome := classify(err)
	fields := logrus.Fields{"elapsed": elapsed.Round(time.Millisecond).String(), "outcome": outcome}
	switch outcome {
	case OutcomeOK:
		entry.WithFields(fields).Info("任务完成")
	case OutcomeFatal:
		entry.WithError(err).WithFields(fields).Error("任务因不变量错误中止")
	default:
		entry.WithError(err).WithFields(fields).Warn("任务失败，等待下次调度")
	}
	s.observe(name, outcome)
	return outcome
}

// watchdog 截止时间过后 watchdog_grace 仍未返回则退出进程
func (s *Scheduler) watchdog(jobCtx context.Context, done <-chan struct{}, entry *logrus.Entry) {
	select {
	case <-done:
		return
	case <-jobCtx.Done():
	}
	timer := time.NewTimer(s.cfg.WatchdogGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		entry.WithField("grace", s.cfg.WatchdogGrace.String()).Error("任务超过截止时间仍未返回，退出进程")
		s.exit(watchdogExitCode)
	}
}

func (s *Scheduler) observe(name string, outcome Outcome) {
	s.metrics.JobRuns.WithLabelValues(name, string(outcome)).Inc()
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, model.ErrInvariant), errors.Is(err, model.ErrFatalRevert):
		return OutcomeFatal
	default:
		return OutcomeError
	}
}
