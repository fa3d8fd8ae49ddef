package table

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/sheet-bridge/internal/remote"
)

// Service はスキーマ同期とレコード正規化のユースケースを束ねます。
type Service struct {
	schemas   *Store
	transport remote.Transport
	fieldMaps *FieldMapSet
	logger    *log.Logger
}

// NewService は Service を作成します。
func NewService(schemas *Store, transport remote.Transport, fieldMaps *FieldMapSet, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if fieldMaps == nil {
		fieldMaps = &FieldMapSet{maps: map[string]*FieldMap{}}
	}
	return &Service{
		schemas:   schemas,
		transport: transport,
		fieldMaps: fieldMaps,
		logger:    logger,
	}
}

// Schemas はスキーマストアを返します（ジョブ配線など外部からの参照用）。
func (s *Service) Schemas() *Store {
	return s.schemas
}

// FetchNormalizedRecords はレコードページを取得して正規化します。
func (s *Service) FetchNormalizedRecords(ctx context.Context, tableID, module string, page remote.PageOptions) ([]TableRecord, *remote.RecordPage, error) {
	schema, err := s.schemas.GetOrSync(ctx, tableID)
	if err != nil {
		return nil, nil, err
	}
	rawPage, err := s.transport.FetchRecords(ctx, tableID, page)
	if err != nil {
		return nil, nil, err
	}
	records := NormalizeAll(schema, rawPage.Records, s.fieldMaps.Module(module))
	return records, rawPage, nil
}

// EncodeForWrite は内部キー指定の値をリモート書き込み形式へ変換します。
// 変換後に書き込めるフィールドが1つも残らない場合はエラーになります。
func (s *Service) EncodeForWrite(ctx context.Context, tableID, module string, values map[string]any) (map[string]any, error) {
	schema, err := s.schemas.GetOrSync(ctx, tableID)
	if err != nil {
		return nil, err
	}
	wire := Encode(schema, values, s.fieldMaps.Module(module))
	if len(wire) == 0 {
		return nil, newError("NO_WRITABLE_FIELDS", "書き込み可能なフィールドがありません。", nil)
	}
	return wire, nil
}

// GetSchemaHandler は GET /api/tables/:tableId/schema のハンドラーを返します。
// キャッシュ優先で、未取得の場合のみリモートと同期します。
func GetSchemaHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tableID := strings.TrimSpace(c.Param("tableId"))
		if tableID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "tableId を指定してください。",
			})
			return
		}

		schema, err := svc.schemas.GetOrSync(c.Request.Context(), tableID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, schema)
	}
}

// SyncSchemaHandler は POST /api/tables/:tableId/schema/sync のハンドラーを返します。
// キャッシュの有無に関わらずリモートから再取得します。
func SyncSchemaHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tableID := strings.TrimSpace(c.Param("tableId"))
		if tableID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "tableId を指定してください。",
			})
			return
		}

		schema, err := svc.schemas.Sync(c.Request.Context(), tableID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, schema)
	}
}

// ListRecordsHandler は GET /api/tables/:tableId/records のハンドラーを返します。
// module クエリでフィールドマッピングを選択できます。
func ListRecordsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tableID := strings.TrimSpace(c.Param("tableId"))
		if tableID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "tableId を指定してください。",
			})
			return
		}

		page := remote.PageOptions{
			PageNum:  queryInt(c, "pageNum", 1),
			PageSize: queryInt(c, "pageSize", 100),
		}
		module := c.Query("module")

		records, rawPage, err := svc.FetchNormalizedRecords(c.Request.Context(), tableID, module, page)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"records":  records,
			"pageNum":  rawPage.PageNum,
			"pageSize": rawPage.PageSize,
			"total":    rawPage.Total,
		})
	}
}

type writeRecordRequest struct {
	Module string         `json:"module"`
	Fields map[string]any `json:"fields" binding:"required"`
}

// CreateRecordHandler は POST /api/tables/:tableId/records のハンドラーを返します。
func CreateRecordHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tableID := strings.TrimSpace(c.Param("tableId"))
		if tableID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "tableId を指定してください。",
			})
			return
		}

		var req writeRecordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "fields を JSON で送ってください。",
			})
			return
		}

		wire, err := svc.EncodeForWrite(c.Request.Context(), tableID, req.Module, req.Fields)
		if err != nil {
			respondWithError(c, err)
			return
		}

		created, err := svc.transport.CreateRecord(c.Request.Context(), tableID, wire)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"recordId": created.RecordID})
	}
}

// UpdateRecordHandler は PATCH /api/tables/:tableId/records/:recordId のハンドラーを返します。
func UpdateRecordHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tableID := strings.TrimSpace(c.Param("tableId"))
		recordID := strings.TrimSpace(c.Param("recordId"))
		if tableID == "" || recordID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "tableId と recordId を指定してください。",
			})
			return
		}

		var req writeRecordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "fields を JSON で送ってください。",
			})
			return
		}

		wire, err := svc.EncodeForWrite(c.Request.Context(), tableID, req.Module, req.Fields)
		if err != nil {
			respondWithError(c, err)
			return
		}

		updated, err := svc.transport.UpdateRecord(c.Request.Context(), tableID, recordID, wire)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"recordId": updated.RecordID})
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	value := c.Query(name)
	if value == "" {
		return fallback
	}
	num, err := strconv.Atoi(value)
	if err != nil || num <= 0 {
		return fallback
	}
	return num
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, ErrSchemaUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "SCHEMA_UNAVAILABLE",
			"message": "スキーマを取得できませんでした。しばらくしてから再試行してください。",
		})
	case errors.Is(err, ErrSchemaEmpty):
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    "SCHEMA_EMPTY",
			"message": "リモートサービスがフィールド定義を返しませんでした。",
		})
	case errors.Is(err, remote.ErrRemoteUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    "REMOTE_UNAVAILABLE",
			"message": "リモートテーブルサービスに接続できませんでした。",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
