// Package remote はリモートテーブルサービスとの通信を担います。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ErrRemoteUnavailable はトランスポート・認証起因でリモートサービスに到達できない場合のエラーです。
var ErrRemoteUnavailable = errors.New("remote table service unavailable")

// RawField はリモートサービスが返すフィールド定義そのままの形です。
type RawField struct {
	FieldID  string `json:"fieldId"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	UIType   string `json:"uiType,omitempty"`
	Editable bool   `json:"editable"`
	Property struct {
		Options []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"options,omitempty"`
	} `json:"property,omitempty"`
}

// RawRecord はリモートサービスが返すレコードそのままの形です。
type RawRecord struct {
	RecordID string         `json:"recordId"`
	Fields   map[string]any `json:"fields"`
}

// RecordPage はページング付きレコード取得の結果です。
type RecordPage struct {
	Records  []RawRecord `json:"records"`
	PageNum  int         `json:"pageNum"`
	PageSize int         `json:"pageSize"`
	Total    int         `json:"total"`
}

// PageOptions はレコード取得時のページ指定です。
type PageOptions struct {
	PageNum  int
	PageSize int
}

// Transport は core が利用するリモートサービスの抽象契約です。
type Transport interface {
	FetchFields(ctx context.Context, tableID string) ([]RawField, error)
	FetchRecords(ctx context.Context, tableID string, page PageOptions) (*RecordPage, error)
	CreateRecord(ctx context.Context, tableID string, fields map[string]any) (*RawRecord, error)
	UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]any) (*RawRecord, error)
}

// Client は Transport のHTTP実装です。APIトークンの更新も内部で行います。
type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client
	logger     *log.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient は Client を作成します。
func NewClient(baseURL, appID, appSecret string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		baseURL:   baseURL,
		appID:     appID,
		appSecret: appSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// apiEnvelope はリモートサービス共通のレスポンス形式です。
type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// FetchFields はテーブルのフィールド一覧を取得します。
func (c *Client) FetchFields(ctx context.Context, tableID string) ([]RawField, error) {
	if tableID == "" {
		return nil, fmt.Errorf("tableID is required")
	}
	var data struct {
		Fields []RawField `json:"fields"`
	}
	path := fmt.Sprintf("/tables/%s/fields", url.PathEscape(tableID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.Fields, nil
}

// FetchRecords はテーブルのレコードをページ単位で取得します。
func (c *Client) FetchRecords(ctx context.Context, tableID string, page PageOptions) (*RecordPage, error) {
	if tableID == "" {
		return nil, fmt.Errorf("tableID is required")
	}
	if page.PageNum <= 0 {
		page.PageNum = 1
	}
	if page.PageSize <= 0 {
		page.PageSize = 100
	}
	query := url.Values{}
	query.Set("pageNum", strconv.Itoa(page.PageNum))
	query.Set("pageSize", strconv.Itoa(page.PageSize))

	var data RecordPage
	path := fmt.Sprintf("/tables/%s/records?%s", url.PathEscape(tableID), query.Encode())
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// CreateRecord はレコードを作成し、作成後のレコードを返します。
func (c *Client) CreateRecord(ctx context.Context, tableID string, fields map[string]any) (*RawRecord, error) {
	if tableID == "" {
		return nil, fmt.Errorf("tableID is required")
	}
	body := map[string]any{"fields": fields}
	var data struct {
		Record RawRecord `json:"record"`
	}
	path := fmt.Sprintf("/tables/%s/records", url.PathEscape(tableID))
	if err := c.doJSON(ctx, http.MethodPost, path, body, &data); err != nil {
		return nil, err
	}
	return &data.Record, nil
}

// UpdateRecord は既存レコードのフィールドを更新します。
func (c *Client) UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]any) (*RawRecord, error) {
	if tableID == "" || recordID == "" {
		return nil, fmt.Errorf("tableID and recordID are required")
	}
	body := map[string]any{"fields": fields}
	var data struct {
		Record RawRecord `json:"record"`
	}
	path := fmt.Sprintf("/tables/%s/records/%s", url.PathEscape(tableID), url.PathEscape(recordID))
	if err := c.doJSON(ctx, http.MethodPatch, path, body, &data); err != nil {
		return nil, err
	}
	return &data.Record, nil
}

// doJSON はトークン付きでリクエストを送り、共通レスポンスを展開します。
// 401 の場合はトークンを更新して一度だけ再試行します。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	retried := false
	for {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return err
		}

		status, payload, err := c.send(ctx, method, path, body, token)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}

		if status == http.StatusUnauthorized && !retried {
			c.invalidateToken()
			retried = true
			continue
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("%w: unexpected status %d", ErrRemoteUnavailable, status)
		}

		var envelope apiEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return fmt.Errorf("%w: malformed response: %v", ErrRemoteUnavailable, err)
		}
		if envelope.Code != 0 {
			return fmt.Errorf("%w: api error code=%d message=%s", ErrRemoteUnavailable, envelope.Code, envelope.Message)
		}
		if out != nil && len(envelope.Data) > 0 {
			if err := json.Unmarshal(envelope.Data, out); err != nil {
				return fmt.Errorf("%w: malformed data: %v", ErrRemoteUnavailable, err)
			}
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, method, path string, body any, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}

// ensureToken は有効なAPIトークンを返します。期限切れが近い場合は更新します。
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second)) {
		return c.token, nil
	}

	body := map[string]string{
		"appId":     c.appID,
		"appSecret": c.appSecret,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token refresh failed: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token refresh status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: token refresh read failed: %v", ErrRemoteUnavailable, err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("%w: malformed token response: %v", ErrRemoteUnavailable, err)
	}
	if envelope.Code != 0 {
		return "", fmt.Errorf("%w: token refresh code=%d message=%s", ErrRemoteUnavailable, envelope.Code, envelope.Message)
	}

	var tr tokenResponse
	if err := json.Unmarshal(envelope.Data, &tr); err != nil {
		return "", fmt.Errorf("%w: malformed token data: %v", ErrRemoteUnavailable, err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("%w: empty token returned", ErrRemoteUnavailable)
	}

	c.token = tr.Token
	if tr.ExpiresIn > 0 {
		c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	} else {
		c.tokenExpiry = time.Now().Add(time.Hour)
	}
	c.logger.Printf("remote: api token refreshed (expires %s)", c.tokenExpiry.Format(time.RFC3339))
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.tokenExpiry = time.Time{}
}
