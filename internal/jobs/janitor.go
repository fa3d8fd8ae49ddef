package jobs

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Janitor はタスクの破棄と停滞検知を定期実行します。
type Janitor struct {
	scheduler gocron.Scheduler
	logger    *log.Logger
}

// NewJanitor はストアの掃除ジョブを登録した Janitor を作成します。
func NewJanitor(store *Store, interval time.Duration, logger *log.Logger) (*Janitor, error) {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(store.Sweep),
		gocron.WithName("task-sweep"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule task sweep: %w", err)
	}

	return &Janitor{scheduler: scheduler, logger: logger}, nil
}

// AddPeriodic は補助的な定期処理（スキーマ自動同期など）を追加します。
func (j *Janitor) AddPeriodic(name string, interval time.Duration, fn func()) error {
	_, err := j.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

// Start はスケジューラーを起動します。
func (j *Janitor) Start() {
	j.scheduler.Start()
}

// Stop はスケジューラーを停止します。
func (j *Janitor) Stop() {
	if err := j.scheduler.Shutdown(); err != nil {
		j.logger.Printf("jobs: scheduler shutdown error: %v", err)
	}
}
