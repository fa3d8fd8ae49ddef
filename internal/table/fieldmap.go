package table

import (
	"encoding/json"
	"fmt"
	"os"
)

// FieldAlias はリモートフィールド名1件分のマッピング定義です。
type FieldAlias struct {
	Key      string `json:"key"`
	ReadOnly bool   `json:"readOnly,omitempty"`
}

// FieldMap はモジュールごとの「リモートフィールド名 → 内部キー」対応表です。
// UIや業務ロジックはこの内部キーだけを参照し、リモートの名前やIDには依存しません。
type FieldMap struct {
	module  string
	byName  map[string]FieldAlias
	byKey   map[string]string // 内部キー → フィールド名（逆引き）
	keyOnly map[string]bool   // 内部キー → 書き込み禁止
}

// FieldMapSet は設定ファイルから読み込んだ全モジュール分のマッピングです。
type FieldMapSet struct {
	maps map[string]*FieldMap
}

// fieldMapFile は設定ファイルのJSON構造です。
//
//	{"orders": {"订单号": {"key": "orderNo"}, "订单金额": {"key": "amount"}}}
type fieldMapFile map[string]map[string]FieldAlias

// LoadFieldMaps はマッピング設定ファイルを読み込みます。
// パスが空の場合は空集合を返します（マッピング無しで運用可能）。
func LoadFieldMaps(path string) (*FieldMapSet, error) {
	set := &FieldMapSet{maps: make(map[string]*FieldMap)}
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("フィールドマッピング設定の読み込みに失敗しました: %w", err)
	}

	var file fieldMapFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("フィールドマッピング設定の解析に失敗しました: %w", err)
	}

	for module, entries := range file {
		fm := newFieldMap(module)
		for fieldName, alias := range entries {
			fm.add(fieldName, alias)
		}
		set.maps[module] = fm
	}
	return set, nil
}

// Module は指定モジュールのマッピングを返します。未定義なら nil（素通し）です。
func (s *FieldMapSet) Module(name string) *FieldMap {
	if s == nil {
		return nil
	}
	return s.maps[name]
}

func newFieldMap(module string) *FieldMap {
	return &FieldMap{
		module:  module,
		byName:  make(map[string]FieldAlias),
		byKey:   make(map[string]string),
		keyOnly: make(map[string]bool),
	}
}

func (m *FieldMap) add(fieldName string, alias FieldAlias) {
	if alias.Key == "" {
		alias.Key = fieldName
	}
	m.byName[fieldName] = alias
	m.byKey[alias.Key] = fieldName
	m.keyOnly[alias.Key] = alias.ReadOnly
}

// KeyForFieldName はフィールド名に対応する内部キーを返します。
// マッピングが無い場合はフィールド名そのものが内部キーになります。
func (m *FieldMap) KeyForFieldName(fieldName string) string {
	if m == nil {
		return fieldName
	}
	if alias, ok := m.byName[fieldName]; ok {
		return alias.Key
	}
	return fieldName
}

// FieldNameForKey は内部キーからフィールド名を逆引きします。
func (m *FieldMap) FieldNameForKey(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	name, ok := m.byKey[key]
	return name, ok
}

// Writable は内部キーに対する書き込み可否を返します。未定義のキーは書き込み可です。
func (m *FieldMap) Writable(key string) bool {
	if m == nil {
		return true
	}
	return !m.keyOnly[key]
}
