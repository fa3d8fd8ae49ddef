package jobs

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrJobBusy は実行中のジョブがある状態で新規投入を試みた場合のエラーです。
// 外部同期処理は並行実行に耐えないため、プロセス全体で同時1件に制限します。
var ErrJobBusy = errors.New("another job is already in flight")

const (
	defaultRetention  = time.Hour
	defaultStaleAfter = 30 * time.Minute
)

// Store はタスク状態をメモリ上で管理します。プロセス終了とともに消えます。
// タスクマップがこのコアで唯一の共有可変状態であり、全操作をミューテックスで直列化します。
type Store struct {
	logger     *log.Logger
	now        func() time.Time
	retention  time.Duration
	staleAfter time.Duration

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewStore は Store を作成します。retention / staleAfter が0以下の場合は既定値を使います。
func NewStore(retention, staleAfter time.Duration, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Store{
		logger:     logger,
		now:        time.Now,
		retention:  retention,
		staleAfter: staleAfter,
		tasks:      make(map[string]*Task),
	}
}

// CreateExclusive は「実行中ジョブなし」の確認とタスク作成を同一ロック内で行います。
// 確認と作成を分けると2件のジョブが並走しうるため、この形でしか作成できません。
func (s *Store) CreateExclusive(kind string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if !t.Status.IsTerminal() {
			return Task{}, ErrJobBusy
		}
	}

	now := s.now().UTC()
	task := &Task{
		TaskID:    uuid.NewString(),
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tasks[task.TaskID] = task
	return *task, nil
}

// Get はタスクのコピーを返します。削除済み・未発行のIDは存在しない扱いです。
func (s *Store) Get(taskID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// HasRunning は未終端（pending / running）のタスクが存在するかを返します。
func (s *Store) HasRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if !t.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// Update はタスクに部分更新を適用し、UpdatedAt を更新します。
// 未知のIDは削除済みランナーからの遅延更新でありうるため、ログだけ残して無視します。
// 終端状態のタスクへの更新も同様に無視します（終端状態からの遷移は存在しません）。
func (s *Store) Update(taskID string, mutate func(*Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		s.logger.Printf("jobs: update for unknown task %s ignored", taskID)
		return
	}
	if task.Status.IsTerminal() {
		s.logger.Printf("jobs: update for terminal task %s (%s) ignored", taskID, task.Status)
		return
	}

	mutate(task)
	now := s.now().UTC()
	task.UpdatedAt = now
	if task.Status.IsTerminal() {
		finished := now
		task.FinishedAt = &finished
	}
}

// Sweep は終端タスクの破棄と、動かなくなった未終端タスクの強制失敗を行います。
// 強制失敗がないと single-flight のゲートが永久に塞がったままになります。
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for id, t := range s.tasks {
		switch {
		case t.Status.IsTerminal() && t.FinishedAt != nil && now.Sub(*t.FinishedAt) > s.retention:
			delete(s.tasks, id)
			s.logger.Printf("jobs: evicted task %s (%s)", id, t.Status)
		case !t.Status.IsTerminal() && now.Sub(t.UpdatedAt) > s.staleAfter:
			// pending のまま止まったタスクもゲートを塞ぐため、running と同じ扱いで失敗させます。
			t.Status = StatusFailed
			t.Error = "job did not report progress and was marked as failed"
			t.UpdatedAt = now
			finished := now
			t.FinishedAt = &finished
			s.logger.Printf("jobs: force-failed stale task %s (no update for %s)", id, s.staleAfter)
		}
	}
}

// Len は保持中のタスク数を返します（テスト・監視用）。
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
