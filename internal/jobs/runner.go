package jobs

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// 外部プロシージャの標準出力プロトコル:
//   - "PROGRESS <0-100>" 行は進捗として解釈する
//   - それ以外の行は実行ログとして蓄積する
//   - 最後の非空行はJSONの実行結果でなければならない
const progressPrefix = "PROGRESS "

// 実行ログとして保持する末尾行数の上限。
const maxOutputLines = 200

// Procedure は外部プロシージャ1種の起動方法です。
type Procedure struct {
	Command string
	Args    []string
}

// Runner は外部プロシージャを非同期に実行し、結果を Store へ書き戻します。
type Runner struct {
	store      *Store
	procedures map[string]Procedure
	logger     *log.Logger
}

// NewRunner は Runner を作成します。
func NewRunner(store *Store, procedures map[string]Procedure, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		store:      store,
		procedures: procedures,
		logger:     logger,
	}
}

// Kinds は実行可能なジョブ種別をソート済みで返します。
func (r *Runner) Kinds() []string {
	kinds := make([]string, 0, len(r.procedures))
	for k := range r.procedures {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Has は指定のジョブ種別が登録済みかを返します。
func (r *Runner) Has(kind string) bool {
	_, ok := r.procedures[kind]
	return ok
}

// Run はタスクをバックグラウンドで実行します。呼び出し側には即座に制御が戻ります。
// 実行中の失敗はすべてタスクの failed 状態に畳み込まれ、ここから外へは漏れません。
func (r *Runner) Run(taskID, kind string, options map[string]any) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Printf("jobs: runner panic task=%s: %v", taskID, rec)
				r.fail(taskID, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		r.execute(taskID, kind, options)
	}()
}

func (r *Runner) execute(taskID, kind string, options map[string]any) {
	proc, ok := r.procedures[kind]
	if !ok {
		r.fail(taskID, fmt.Sprintf("unknown job kind: %s", kind))
		return
	}

	optJSON, err := json.Marshal(options)
	if err != nil {
		r.fail(taskID, fmt.Sprintf("failed to encode options: %v", err))
		return
	}

	r.store.Update(taskID, func(t *Task) {
		t.Status = StatusRunning
		t.Progress = 0
	})

	args := append(append([]string{}, proc.Args...), string(optJSON))
	cmd := exec.Command(proc.Command, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.fail(taskID, fmt.Sprintf("failed to open stdout pipe: %v", err))
		return
	}
	if err := cmd.Start(); err != nil {
		r.fail(taskID, fmt.Sprintf("failed to start procedure: %v", err))
		return
	}
	r.logger.Printf("jobs: started task=%s kind=%s command=%s", taskID, kind, proc.Command)

	var outputLines []string
	var lastLine string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if percent, ok := parseProgress(line); ok {
			r.store.Update(taskID, func(t *Task) {
				t.Progress = percent
			})
			continue
		}
		lastLine = line
		outputLines = append(outputLines, line)
		if len(outputLines) > maxOutputLines {
			outputLines = outputLines[len(outputLines)-maxOutputLines:]
		}
		r.store.Update(taskID, func(t *Task) {
			t.Output = strings.Join(outputLines, "\n")
		})
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		message := fmt.Sprintf("procedure exited with error: %v", err)
		if tail := tailOf(stderr.String()); tail != "" {
			message += ": " + tail
		}
		r.fail(taskID, message)
		return
	}
	if scanErr != nil {
		r.fail(taskID, fmt.Sprintf("failed to read procedure output: %v", scanErr))
		return
	}

	// 終端結果は最後の非空行のJSONとして受け取る契約です。
	var result any
	if lastLine == "" || json.Unmarshal([]byte(lastLine), &result) != nil {
		r.fail(taskID, "procedure did not emit a machine-readable result")
		return
	}

	r.store.Update(taskID, func(t *Task) {
		t.Status = StatusCompleted
		t.Progress = 100
		t.Result = result
		t.Output = strings.Join(outputLines, "\n")
	})
	r.logger.Printf("jobs: completed task=%s kind=%s", taskID, kind)
}

func (r *Runner) fail(taskID, message string) {
	r.store.Update(taskID, func(t *Task) {
		t.Status = StatusFailed
		t.Error = message
	})
	r.logger.Printf("jobs: failed task=%s: %s", taskID, message)
}

func parseProgress(line string) (int, bool) {
	if !strings.HasPrefix(line, progressPrefix) {
		return 0, false
	}
	value := strings.TrimSpace(strings.TrimPrefix(line, progressPrefix))
	percent, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return percent, true
}

// tailOf は標準エラー出力の末尾1行を返します。
func tailOf(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
