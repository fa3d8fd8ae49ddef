package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/sheet-bridge/internal/config"
	"github.com/yourusername/sheet-bridge/internal/jobs"
	"github.com/yourusername/sheet-bridge/internal/table"
)

// setupJobs はタスクストア・ランナー・掃除ジョブを配線します。
func setupJobs(cfg *config.Config, schemas *table.Store) (*jobs.Store, *jobs.Runner, *jobs.Janitor, error) {
	store := jobs.NewStore(
		time.Duration(cfg.TaskRetentionMinutes)*time.Minute,
		time.Duration(cfg.TaskStaleMinutes)*time.Minute,
		log.Default(),
	)

	procedures := map[string]jobs.Procedure{}
	if parts := splitCommand(cfg.SyncCommand); len(parts) > 0 {
		procedures[jobs.JobKindSync] = jobs.Procedure{Command: parts[0], Args: parts[1:]}
	}
	if parts := splitCommand(cfg.VerifyCommand); len(parts) > 0 {
		procedures[jobs.JobKindVerify] = jobs.Procedure{Command: parts[0], Args: parts[1:]}
	}
	runner := jobs.NewRunner(store, procedures, log.Default())

	janitor, err := jobs.NewJanitor(store, time.Duration(cfg.JanitorIntervalSec)*time.Second, log.Default())
	if err != nil {
		return nil, nil, nil, err
	}

	// スキーマの定期同期は任意機能。同期は常に全量置き換えなのでキャッシュ不変条件を崩しません。
	if cfg.SchemaSyncMinutes > 0 {
		interval := time.Duration(cfg.SchemaSyncMinutes) * time.Minute
		tables := cfg.SchemaSyncTables()
		err := janitor.AddPeriodic("schema-sync", interval, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			for _, tableID := range tables {
				if _, err := schemas.Sync(ctx, tableID); err != nil {
					log.Printf("schema-sync: table=%s failed: %v", tableID, err)
				}
			}
		})
		if err != nil {
			return nil, nil, nil, err
		}
	}

	return store, runner, janitor, nil
}

func splitCommand(command string) []string {
	return strings.Fields(command)
}

type submitJobRequest struct {
	Kind    string         `json:"kind" binding:"required"`
	Options map[string]any `json:"options"`
}

// submitJobHandler は POST /api/jobs のハンドラーを返します。
// 同時に実行できるジョブは1件のみで、超過分は 409 で拒否します。
func submitJobHandler(store *jobs.Store, runner *jobs.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "kind を JSON で送ってください。",
			})
			return
		}

		if !runner.Has(req.Kind) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "UNKNOWN_JOB_KIND",
				"message": "指定されたジョブ種別は実行できません。",
			})
			return
		}

		if err := jobs.ValidateOptions(req.Kind, req.Options); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_OPTIONS",
				"message": err.Error(),
			})
			return
		}

		task, err := store.CreateExclusive(req.Kind)
		if err != nil {
			if errors.Is(err, jobs.ErrJobBusy) {
				c.JSON(http.StatusConflict, gin.H{
					"code":    "JOB_BUSY",
					"message": "実行中のジョブがあります。完了後に再度投入してください。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "タスクの作成に失敗しました。",
			})
			return
		}

		runner.Run(task.TaskID, req.Kind, req.Options)
		c.JSON(http.StatusAccepted, gin.H{"taskId": task.TaskID})
	}
}

// jobKindsHandler は GET /api/jobs/kinds のハンドラーを返します。
// フロントエンドが投入フォームの選択肢を組み立てるために使います。
func jobKindsHandler(runner *jobs.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"kinds": runner.Kinds()})
	}
}

// jobStatusHandler は GET /api/jobs/:id のハンドラーを返します。
func jobStatusHandler(store *jobs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := strings.TrimSpace(c.Param("id"))
		if taskID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "taskId を指定してください。",
			})
			return
		}

		task, ok := store.Get(taskID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "TASK_NOT_FOUND",
				"message": "指定されたタスクは存在しないか、既に破棄されています。",
			})
			return
		}

		payload := gin.H{
			"taskId":    task.TaskID,
			"kind":      task.Kind,
			"status":    task.Status,
			"progress":  task.Progress,
			"updatedAt": task.UpdatedAt,
		}
		if task.Output != "" {
			payload["output"] = task.Output
		}
		if task.Status.IsTerminal() {
			payload["finishedAt"] = task.FinishedAt
			if task.Result != nil {
				payload["result"] = task.Result
			}
			if task.Error != "" {
				payload["error"] = task.Error
			}
		}
		c.JSON(http.StatusOK, payload)
	}
}
