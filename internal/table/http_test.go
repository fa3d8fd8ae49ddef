package table

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/sheet-bridge/internal/remote"
)

func newTestRouter(transport remote.Transport, fieldMaps *FieldMapSet) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := NewService(NewStore(transport, nil), transport, fieldMaps, nil)
	router := gin.New()
	router.GET("/tables/:tableId/schema", GetSchemaHandler(svc))
	router.POST("/tables/:tableId/schema/sync", SyncSchemaHandler(svc))
	router.GET("/tables/:tableId/records", ListRecordsHandler(svc))
	router.POST("/tables/:tableId/records", CreateRecordHandler(svc))
	router.PATCH("/tables/:tableId/records/:recordId", UpdateRecordHandler(svc))
	return router
}

func TestListRecordsHandler(t *testing.T) {
	transport := &fakeTransport{
		fields: map[string][]remote.RawField{
			"tbl1": {
				rawField("fld1", "订单号", "text"),
				rawField("fld2", "订单金额", "currency"),
			},
		},
		records: []remote.RawRecord{
			{RecordID: "rec1", Fields: map[string]any{"订单号": "1001", "订单金额": float64(1000)}},
		},
	}
	router := newTestRouter(transport, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tables/tbl1/records", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	var body struct {
		Records []TableRecord `json:"records"`
		Total   int           `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Records) != 1 {
		t.Fatalf("unexpected records: %#v", body.Records)
	}
	amount := body.Records[0].Fields["订单金额"]
	if amount.Formatted != "¥1,000" {
		t.Fatalf("unexpected formatted amount: %q", amount.Formatted)
	}
}

func TestListRecordsHandlerSchemaUnavailable(t *testing.T) {
	transport := &fakeTransport{fetchErr: remote.ErrRemoteUnavailable}
	router := newTestRouter(transport, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tables/tbl1/records", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestSyncSchemaHandlerEmptySchema(t *testing.T) {
	transport := &fakeTransport{fields: map[string][]remote.RawField{}}
	router := newTestRouter(transport, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tables/tbl1/schema/sync", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["code"] != "SCHEMA_EMPTY" {
		t.Fatalf("unexpected error code: %q", body["code"])
	}
}

func TestCreateRecordHandler(t *testing.T) {
	transport := &fakeTransport{
		fields: map[string][]remote.RawField{
			"tbl1": {rawField("fld1", "订单号", "text")},
		},
	}
	router := newTestRouter(transport, nil)

	payload := bytes.NewBufferString(`{"fields": {"订单号": "1001"}}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tables/tbl1/records", payload)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if transport.createdWith["订单号"] != "1001" {
		t.Fatalf("unexpected wire payload: %#v", transport.createdWith)
	}
}

func TestCreateRecordHandlerNothingToWrite(t *testing.T) {
	transport := &fakeTransport{
		fields: map[string][]remote.RawField{
			"tbl1": {
				{FieldID: "fld1", Name: "合計", Type: "formula", Editable: false},
			},
		},
	}
	router := newTestRouter(transport, nil)

	// 数式フィールドのみのスキーマに対する書き込みは「書くものがない」
	payload := bytes.NewBufferString(`{"fields": {"合計": 100}}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tables/tbl1/records", payload)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["code"] != "NO_WRITABLE_FIELDS" {
		t.Fatalf("unexpected error code: %q", body["code"])
	}
	if transport.createdWith != nil {
		t.Fatalf("remote must not be called: %#v", transport.createdWith)
	}
}

func TestEncodeForWriteNothingToWriteError(t *testing.T) {
	transport := &fakeTransport{
		fields: map[string][]remote.RawField{
			"tbl1": {
				{FieldID: "fld1", Name: "合計", Type: "formula", Editable: false},
			},
		},
	}
	svc := NewService(NewStore(transport, nil), transport, nil, nil)

	_, err := svc.EncodeForWrite(context.Background(), "tbl1", "", map[string]any{"合計": 100})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != "NO_WRITABLE_FIELDS" {
		t.Fatalf("unexpected code: %q", apiErr.Code)
	}
}

func TestUpdateRecordHandler(t *testing.T) {
	transport := &fakeTransport{
		fields: map[string][]remote.RawField{
			"tbl1": {rawField("fld1", "订单号", "text")},
		},
	}
	router := newTestRouter(transport, nil)

	payload := bytes.NewBufferString(`{"fields": {"订单号": "2002"}}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/tables/tbl1/records/rec1", payload)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if transport.updatedWith["订单号"] != "2002" {
		t.Fatalf("unexpected wire payload: %#v", transport.updatedWith)
	}
}
