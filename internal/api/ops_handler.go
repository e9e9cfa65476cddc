package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"CycleOracle/internal/chain"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"
	"CycleOracle/internal/scheduler"
	"CycleOracle/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ChainReader 运维接口用到的链上只读调用
type ChainReader interface {
	HeadBlock(ctx context.Context) (uint64, error)
	CycleStatus(ctx context.Context, cycleID uint64) (*chain.CycleStatus, error)
	DailyMatches(ctx context.Context, cycleID uint64) (chain.MatchInputs, error)
}

// GateEvaluator 只读评估结算门槛
type GateEvaluator interface {
	EvaluateGate(ctx context.Context, cycleID int64) (*service.GateReport, error)
}

// CycleReconciler 单周期对账
type CycleReconciler interface {
	ReconcileCycle(ctx context.Context, cycleID int64) (*service.ReconcileStats, error)
}

// JobRunner 手动触发任务
type JobRunner interface {
	Trigger(name string) error
	Jobs() []string
}

// Pinger 数据库连通性检查（*sql.DB）
type Pinger interface {
	PingContext(ctx context.Context) error
}

// OpsHandler 运维 HTTP 接口；读接口走报表连接池
type OpsHandler struct {
	store  repository.Store
	chain  ChainReader
	gate   GateEvaluator
	recon  CycleReconciler
	jobs   JobRunner
	db     Pinger
	logger *logrus.Logger
}

// NewOpsHandler 创建 OpsHandler
func NewOpsHandler(store repository.Store, chainReader ChainReader, gate GateEvaluator, recon CycleReconciler, jobs JobRunner, db Pinger, logger *logrus.Logger) *OpsHandler {
	return &OpsHandler{
		store:  store,
		chain:  chainReader,
		gate:   gate,
		recon:  recon,
		jobs:   jobs,
		db:     db,
		logger: logger,
	}
}

// Register 注册路由
func (h *OpsHandler) Register(r gin.IRouter, metrics http.Handler) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics))
	r.GET("/jobs", h.ListJobs)
	r.POST("/jobs/:name/run", h.RunJob)
	r.GET("/cycles/:id", h.GetCycle)
	r.GET("/cycles/:id/gate", h.GetGate)
	r.POST("/cycles/:id/reconcile", h.ReconcileCycle)
	r.GET("/cycles/:id/leaderboard", h.GetLeaderboard)
	r.GET("/sync-issues", h.ListSyncIssues)
}

// Healthz 数据库 ping + 链头
// GET /healthz
func (h *OpsHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	body := gin.H{"database": "ok", "chain": "ok"}
	status := http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.WithError(err).Warn("healthz: 数据库不可用")
		body["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if head, err := h.chain.HeadBlock(ctx); err != nil {
		h.logger.WithError(err).Warn("healthz: 链节点不可用")
		body["chain"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		body["head_block"] = head
	}
	c.JSON(status, body)
}

// ListJobs 已注册任务
// GET /jobs
func (h *OpsHandler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobs.Jobs()})
}

// RunJob 手动触发任务（与定时触发经过同一套锁与超时）
// POST /jobs/:name/run
func (h *OpsHandler) RunJob(c *gin.Context) {
	name := c.Param("name")
	if err := h.jobs.Trigger(name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).WithField("job", name).Error("手动触发任务失败")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	h.logger.WithField("job", name).Info("已手动触发任务")
	c.JSON(http.StatusAccepted, gin.H{"job": name, "status": "triggered"})
}

type chainCycleView struct {
	State     string    `json:"state"`
	EndTime   time.Time `json:"end_time"`
	PrizePool string    `json:"prize_pool"`
	SlipCount uint32    `json:"slip_count"`
	HasWinner bool      `json:"has_winner"`
}

type cycleView struct {
	CycleID  int64                   `json:"cycle_id"`
	Database *model.Cycle            `json:"database,omitempty"`
	Matches  []*model.DailyGameMatch `json:"matches,omitempty"`
	Chain    *chainCycleView         `json:"chain,omitempty"`
	// 数据库 resolution_data 与链上结果是否一致；两边都有结果时才给出
	ResolutionMatchesChain *bool  `json:"resolution_matches_chain,omitempty"`
	ChainError             string `json:"chain_error,omitempty"`
}

// GetCycle 数据库镜像与链上状态对照
// GET /cycles/:id
func (h *OpsHandler) GetCycle(c *gin.Context) {
	cycleID, ok := cycleParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	view := cycleView{CycleID: cycleID}

	repos := h.store.Repos()
	cycle, err := repos.Cycles.Get(ctx, cycleID)
	switch {
	case err == nil:
		view.Database = cycle
		if view.Matches, err = repos.Cycles.GetMatches(ctx, cycleID); err != nil {
			h.internalError(c, "读取周期槽位失败", err)
			return
		}
	case !errors.Is(err, model.ErrNotFound):
		h.internalError(c, "读取周期失败", err)
		return
	}

	status, err := h.chain.CycleStatus(ctx, uint64(cycleID))
	if err != nil {
		view.ChainError = err.Error()
	} else if status.Exists {
		view.Chain = &chainCycleView{
			State:     status.State.String(),
			EndTime:   status.EndTime,
			PrizePool: "0",
			SlipCount: status.SlipCount,
			HasWinner: status.HasWinner,
		}
		if status.PrizePool != nil {
			view.Chain.PrizePool = status.PrizePool.String()
		}
		if status.State == chain.StateResolved && cycle != nil && len(cycle.ResolutionData) > 0 {
			view.ResolutionMatchesChain = h.compareResolution(ctx, cycleID, cycle.ResolutionData)
		}
	}

	if view.Database == nil && view.Chain == nil && view.ChainError == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "cycle not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *OpsHandler) compareResolution(ctx context.Context, cycleID int64, data []byte) *bool {
	stored, err := service.ResolutionPairs(data)
	if err != nil {
		h.logger.WithError(err).WithField("cycle_id", cycleID).Warn("resolution_data 无法解析")
		return nil
	}
	onChain, err := h.chain.DailyMatches(ctx, uint64(cycleID))
	if err != nil {
		return nil
	}
	same := true
	for i := range onChain {
		if onChain[i].Result != stored[i] {
			same = false
			break
		}
	}
	return &same
}

// GetGate 只读评估结算门槛
// GET /cycles/:id/gate
func (h *OpsHandler) GetGate(c *gin.Context) {
	cycleID, ok := cycleParam(c)
	if !ok {
		return
	}
	report, err := h.gate.EvaluateGate(c.Request.Context(), cycleID)
	if err != nil && report == nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.internalError(c, "评估结算门槛失败", err)
		return
	}
	body := gin.H{
		"cycle_id":    cycleID,
		"chain_state": report.ChainState.String(),
		"end_time":    report.EndTime,
		"block_time":  report.BlockTime,
		"passed":      report.Passed(),
		"conditions":  report.Conditions,
		"mismatches":  report.Mismatches,
	}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// ReconcileCycle 立即按链上状态对账单个周期（接管、推进到 EndedAwaitingResults 或补记结算）
// POST /cycles/:id/reconcile
func (h *OpsHandler) ReconcileCycle(c *gin.Context) {
	cycleID, ok := cycleParam(c)
	if !ok {
		return
	}
	stats, err := h.recon.ReconcileCycle(c.Request.Context(), cycleID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.internalError(c, "单周期对账失败", err)
		return
	}
	h.logger.WithField("cycle_id", cycleID).Info("已手动对账周期")
	c.JSON(http.StatusOK, gin.H{
		"cycle_id": cycleID,
		"adopted":  stats.Adopted,
		"resolved": stats.Resolved,
		"advanced": stats.Advanced,
	})
}

// GetLeaderboard 已评估 slip 排行
// GET /cycles/:id/leaderboard?limit=10
func (h *OpsHandler) GetLeaderboard(c *gin.Context) {
	cycleID, ok := cycleParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit <= 0 || limit > 500 {
		limit = 10
	}
	slips, err := h.store.Repos().Slips.Leaderboard(c.Request.Context(), cycleID, limit)
	if err != nil {
		h.internalError(c, "读取排行失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycle_id": cycleID, "slips": slips})
}

// ListSyncIssues 链上与数据库不一致记录
// GET /sync-issues?open=true&limit=50
func (h *OpsHandler) ListSyncIssues(c *gin.Context) {
	onlyOpen := c.DefaultQuery("open", "true") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	issues, err := h.store.Repos().Ops.ListSyncIssues(c.Request.Context(), onlyOpen, limit)
	if err != nil {
		h.internalError(c, "读取 sync_issues 失败", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

func (h *OpsHandler) internalError(c *gin.Context, msg string, err error) {
	h.logger.WithError(err).WithField("path", c.FullPath()).Error(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func cycleParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cycle id"})
		return 0, false
	}
	return id, true
}
