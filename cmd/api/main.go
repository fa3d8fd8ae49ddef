// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/sheet-bridge/internal/auth"
	"github.com/yourusername/sheet-bridge/internal/config"
	"github.com/yourusername/sheet-bridge/internal/jobs"
	"github.com/yourusername/sheet-bridge/internal/remote"
	"github.com/yourusername/sheet-bridge/internal/table"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	// リモートテーブルサービスとコアサービスの組み立て
	transport := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteAppID, cfg.RemoteAppSecret, log.Default())
	schemas := table.NewStore(transport, log.Default())
	fieldMaps, err := table.LoadFieldMaps(cfg.FieldMapPath)
	if err != nil {
		log.Fatalf("Failed to load field maps: %v", err)
	}
	tableService := table.NewService(schemas, transport, fieldMaps, log.Default())

	// ジョブ基盤の組み立て
	taskStore, runner, janitor, err := setupJobs(cfg, tableService.Schemas())
	if err != nil {
		log.Fatalf("Failed to set up jobs: %v", err)
	}
	janitor.Start()
	defer janitor.Stop()

	// ルーティングの設定
	setupRoutes(router, cfg, tableService, taskStore, runner)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "sheet-bridge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	tableService *table.Service,
	taskStore *jobs.Store,
	runner *jobs.Runner,
) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	authManager := auth.NewManager(cfg)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		protected := api.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			tables := protected.Group("/tables")
			{
				tables.GET("/:tableId/schema", table.GetSchemaHandler(tableService))
				tables.POST("/:tableId/schema/sync", table.SyncSchemaHandler(tableService))
				tables.GET("/:tableId/records", table.ListRecordsHandler(tableService))
				tables.POST("/:tableId/records", table.CreateRecordHandler(tableService))
				tables.PATCH("/:tableId/records/:recordId", table.UpdateRecordHandler(tableService))
			}

			jobRoutes := protected.Group("/jobs")
			{
				jobRoutes.POST("", submitJobHandler(taskStore, runner))
				jobRoutes.GET("/kinds", jobKindsHandler(runner))
				jobRoutes.GET("/:id", jobStatusHandler(taskStore))
			}
		}
	}
}
