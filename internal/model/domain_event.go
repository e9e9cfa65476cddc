package model

import "time"

// 领域事件类型（下游 HTTP / WebSocket 服务消费）
const (
	EventCycleOpened    = "cycle.opened"
	EventCycleReady     = "cycle.ready"
	EventCycleResolved  = "cycle.resolved"
	EventSlipsEvaluated = "slips.evaluated"
	EventSyncIssue      = "sync.issue"
)

// DomainEvent 引擎对外发出的事件
type DomainEvent struct {
	Type    string                 `json:"type"`
	CycleID int64                  `json:"cycle_id"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	At      time.Time              `json:"at"`
}
