// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// リモートテーブルサービス設定
	RemoteBaseURL   string // リモートAPIのベースURL
	RemoteAppID     string // トークン取得用のアプリケーションID
	RemoteAppSecret string // トークン取得用のシークレット

	// フィールドマッピング設定
	FieldMapPath string // モジュール別フィールドマッピング定義ファイルのパス

	// ジョブ設定
	SyncCommand          string // 外部同期プロシージャの起動コマンド
	VerifyCommand        string // 外部検証プロシージャの起動コマンド
	TaskRetentionMinutes int    // 終端タスクを保持する時間（分）
	TaskStaleMinutes     int    // 実行中タスクを停滞とみなす時間（分）
	JanitorIntervalSec   int    // 掃除ジョブの実行間隔（秒）

	// スキーマ自動同期設定
	SchemaSyncMinutes  int    // 定期同期の間隔（分）。0で無効
	SchemaSyncTableIDs string // 定期同期対象のテーブルID（カンマ区切り）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		RemoteBaseURL:   getEnv("REMOTE_BASE_URL", ""),
		RemoteAppID:     getEnv("REMOTE_APP_ID", ""),
		RemoteAppSecret: getEnv("REMOTE_APP_SECRET", ""),

		FieldMapPath: getEnv("FIELD_MAP_PATH", ""),

		SyncCommand:          getEnv("SYNC_JOB_COMMAND", "./scripts/sync_external.sh"),
		VerifyCommand:        getEnv("VERIFY_JOB_COMMAND", "./scripts/verify_external.sh"),
		TaskRetentionMinutes: getEnvAsInt("TASK_RETENTION_MINUTES", 60),
		TaskStaleMinutes:     getEnvAsInt("TASK_STALE_MINUTES", 30),
		JanitorIntervalSec:   getEnvAsInt("JANITOR_INTERVAL_SECONDS", 60),

		SchemaSyncMinutes:  getEnvAsInt("SCHEMA_SYNC_MINUTES", 0),
		SchemaSyncTableIDs: getEnv("SCHEMA_SYNC_TABLE_IDS", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では認証設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.RemoteBaseURL == "" {
			return fmt.Errorf("REMOTE_BASE_URL is required in release mode")
		}
		if c.RemoteAppID == "" || c.RemoteAppSecret == "" {
			return fmt.Errorf("REMOTE_APP_ID and REMOTE_APP_SECRET are required in release mode")
		}
	}

	if c.SchemaSyncMinutes > 0 && strings.TrimSpace(c.SchemaSyncTableIDs) == "" {
		return fmt.Errorf("SCHEMA_SYNC_TABLE_IDS is required when SCHEMA_SYNC_MINUTES > 0")
	}

	return nil
}

// SchemaSyncTables は定期同期対象のテーブルIDを配列で返します。
func (c *Config) SchemaSyncTables() []string {
	if strings.TrimSpace(c.SchemaSyncTableIDs) == "" {
		return nil
	}
	parts := strings.Split(c.SchemaSyncTableIDs, ",")
	tables := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			tables = append(tables, trimmed)
		}
	}
	return tables
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
