// Package jobs は非同期の外部同期・検証ジョブの状態管理と実行を提供します。
package jobs

import "time"

// Status はタスクの実行状態を表します。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal は終端状態かどうかを返します。終端状態からの遷移はありません。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task は非同期ジョブ1件の現在状態を表します。
// 所有者は Store であり、Runner は taskId 経由でのみ状態を更新します。
type Task struct {
	TaskID     string     `json:"taskId"`
	Kind       string     `json:"kind"`
	Status     Status     `json:"status"`
	Progress   int        `json:"progress"`
	Output     string     `json:"output,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}
