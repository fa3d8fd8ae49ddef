// Package table はリモートテーブルのスキーマ同期とレコード正規化を提供します。
package table

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yourusername/sheet-bridge/internal/remote"
)

// FieldType はリモートフィールドの型分類を表します。
type FieldType string

const (
	FieldTypeText         FieldType = "text"
	FieldTypeNumber       FieldType = "number"
	FieldTypeCurrency     FieldType = "currency"
	FieldTypeDate         FieldType = "date"
	FieldTypeCheckbox     FieldType = "checkbox"
	FieldTypeSingleSelect FieldType = "singleSelect"
	FieldTypeMultiSelect  FieldType = "multiSelect"
	FieldTypeFormula      FieldType = "formula"
	FieldTypeLookup       FieldType = "lookup"
	FieldTypeURL          FieldType = "url"
)

// FieldSchema はリモートフィールド1件の定義です。
// FieldID はフィールドの生存期間中不変ですが、FieldName は重複・変更がありえます。
type FieldSchema struct {
	FieldID       string    `json:"fieldId"`
	FieldName     string    `json:"fieldName"`
	FieldType     FieldType `json:"fieldType"`
	UIType        string    `json:"uiType,omitempty"`
	IsFormula     bool      `json:"isFormula"`
	SelectOptions []string  `json:"selectOptions,omitempty"`
}

// TableSchema はテーブルスキーマのスナップショットです。作成後は読み取り専用です。
type TableSchema struct {
	TableID   string        `json:"tableId"`
	TableName string        `json:"tableName,omitempty"`
	Fields    []FieldSchema `json:"fields"`
	SyncedAt  time.Time     `json:"syncedAt"`
}

// FieldByName はフィールド名で検索します。同名フィールドは先頭一致を採用します。
func (s *TableSchema) FieldByName(name string) (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.FieldName == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// FieldByID はフィールドIDで検索します。
func (s *TableSchema) FieldByID(id string) (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.FieldID == id {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Store はテーブルスキーマのキャッシュと同期を担います。
// キャッシュの置き換えはスナップショット単位で行い、部分更新された
// スキーマが読み手から見えることはありません。
type Store struct {
	transport remote.Transport
	logger    *log.Logger
	now       func() time.Time

	mu    sync.RWMutex
	cache map[string]*TableSchema
}

// NewStore は Store を作成します。
func NewStore(transport remote.Transport, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		transport: transport,
		logger:    logger,
		now:       time.Now,
		cache:     make(map[string]*TableSchema),
	}
}

// Get はキャッシュ済みスナップショットを返します。ネットワークには触れません。
func (s *Store) Get(tableID string) (*TableSchema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.cache[tableID]
	return schema, ok
}

// Sync はリモートからフィールド一覧を取得し、キャッシュを丸ごと置き換えます。
// 取得に失敗した場合、既存のキャッシュには手を付けません。
func (s *Store) Sync(ctx context.Context, tableID string) (*TableSchema, error) {
	if tableID == "" {
		return nil, fmt.Errorf("tableID is required")
	}

	raw, err := s.transport.FetchFields(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: table=%s", ErrSchemaEmpty, tableID)
	}

	schema := buildSchema(tableID, raw, s.now().UTC())
	s.logDuplicateNames(schema)

	s.mu.Lock()
	s.cache[tableID] = schema
	s.mu.Unlock()

	s.logger.Printf("table: schema synced table=%s fields=%d", tableID, len(schema.Fields))
	return schema, nil
}

// GetOrSync はキャッシュを優先し、なければ同期を試みます。
// 同期にも失敗した場合は ErrSchemaUnavailable を包んで返します。
func (s *Store) GetOrSync(ctx context.Context, tableID string) (*TableSchema, error) {
	if schema, ok := s.Get(tableID); ok {
		return schema, nil
	}
	schema, err := s.Sync(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}
	return schema, nil
}

// buildSchema はリモート表現からスナップショットを組み立てます。
func buildSchema(tableID string, raw []remote.RawField, syncedAt time.Time) *TableSchema {
	fields := make([]FieldSchema, 0, len(raw))
	for _, rf := range raw {
		ft := normalizeFieldType(rf.Type)
		fs := FieldSchema{
			FieldID:   rf.FieldID,
			FieldName: rf.Name,
			FieldType: ft,
			UIType:    rf.UIType,
			IsFormula: isComputedType(ft) || !rf.Editable,
		}
		for _, opt := range rf.Property.Options {
			fs.SelectOptions = append(fs.SelectOptions, opt.Name)
		}
		fields = append(fields, fs)
	}
	return &TableSchema{
		TableID:  tableID,
		Fields:   fields,
		SyncedAt: syncedAt,
	}
}

// normalizeFieldType はリモートの型名を内部分類へ写します。未知の型はテキスト扱いです。
func normalizeFieldType(t string) FieldType {
	switch FieldType(t) {
	case FieldTypeText, FieldTypeNumber, FieldTypeCurrency, FieldTypeDate,
		FieldTypeCheckbox, FieldTypeSingleSelect, FieldTypeMultiSelect,
		FieldTypeFormula, FieldTypeLookup, FieldTypeURL:
		return FieldType(t)
	case "longText", "singleText":
		return FieldTypeText
	case "dateTime":
		return FieldTypeDate
	default:
		return FieldTypeText
	}
}

func isComputedType(t FieldType) bool {
	return t == FieldTypeFormula || t == FieldTypeLookup
}

// logDuplicateNames は同名フィールドの存在を記録します。検索は先頭一致のままです。
func (s *Store) logDuplicateNames(schema *TableSchema) {
	seen := make(map[string]string, len(schema.Fields))
	for _, f := range schema.Fields {
		if first, ok := seen[f.FieldName]; ok {
			s.logger.Printf("table: duplicate field name %q table=%s (using %s, ignoring %s)",
				f.FieldName, schema.TableID, first, f.FieldID)
			continue
		}
		seen[f.FieldName] = f.FieldID
	}
}
