package service

import (
	"context"
	"encoding/json"
	"time"

	"CycleOracle/internal/interfaces"
	"CycleOracle/internal/model"
	"CycleOracle/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.DomainEvent) {}

type nopTrigger struct{}

func (nopTrigger) RequestEvaluation(int64) {}

// recorder 写 sync_issues / health_reports 并发出领域事件；记录失败只打日志
type recorder struct {
	store     repository.Store
	publisher interfaces.EventPublisher
	logger    *logrus.Logger
}

func newRecorder(store repository.Store, publisher interfaces.EventPublisher, logger *logrus.Logger) *recorder {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &recorder{store: store, publisher: publisher, logger: logger}
}

func (r *recorder) publish(ctx context.Context, typ string, cycleID int64, payload map[string]interface{}) {
	r.publisher.Publish(ctx, model.DomainEvent{
		Type:    typ,
		CycleID: cycleID,
		Payload: payload,
		At:      time.Now().UTC(),
	})
}

// syncIssue 记录链上与数据库的不一致
func (r *recorder) syncIssue(ctx context.Context, kind string, cycleID int64, msg string, details map[string]interface{}) {
	issue := &model.SyncIssue{
		Kind:    kind,
		Message: msg,
		Details: toJSON(details),
	}
	if cycleID > 0 {
		issue.CycleID = &cycleID
	}
	if err := r.store.Repos().Ops.RecordSyncIssue(ctx, issue); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{"kind": kind, "cycle_id": cycleID}).Error("写入 sync_issue 失败")
	}
	payload := map[string]interface{}{"kind": kind, "message": msg}
	for k, v := range details {
		payload[k] = v
	}
	r.publish(ctx, model.EventSyncIssue, cycleID, payload)
}

// healthReport 任务因不变量或致命 revert 放弃时写入
func (r *recorder) healthReport(ctx context.Context, job, severity string, cycleID int64, cause error, details map[string]interface{}) {
	report := &model.HealthReport{
		Job:      job,
		Severity: severity,
		Message:  cause.Error(),
		Details:  toJSON(details),
	}
	if cycleID > 0 {
		report.CycleID = &cycleID
	}
	if err := r.store.Repos().Ops.RecordHealthReport(ctx, report); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{"job": job, "cycle_id": cycleID}).Error("写入 health_report 失败")
	}
}

func toJSON(v map[string]interface{}) datatypes.JSON {
	if len(v) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
