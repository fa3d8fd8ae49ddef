package table

import (
	"github.com/yourusername/sheet-bridge/internal/remote"
)

// TableRecord は内部キーで引ける正規化済みレコードです。
type TableRecord struct {
	RecordID string                 `json:"recordId"`
	Fields   map[string]ParsedField `json:"fields"`
	Raw      map[string]any         `json:"raw,omitempty"`
}

// Normalize はスキーマ駆動でレコードを正規化します。
// スキーマのフィールド順に走査するため、レコード側に余分なキーがあっても
// 欠けたキーがあっても、出力の形はスキーマにのみ従います。
func Normalize(schema *TableSchema, record remote.RawRecord, fieldMap *FieldMap) TableRecord {
	out := TableRecord{
		RecordID: record.RecordID,
		Fields:   make(map[string]ParsedField, len(schema.Fields)),
		Raw:      record.Fields,
	}

	for _, fs := range schema.Fields {
		raw := record.Fields[fs.FieldName]
		pf := Decode(fs, raw)
		key := fieldMap.KeyForFieldName(fs.FieldName)
		pf.Meta.DataKey = key
		if _, exists := out.Fields[key]; exists {
			// 同名フィールドの2件目以降は先頭一致を優先して捨てます。
			continue
		}
		out.Fields[key] = pf
	}
	return out
}

// NormalizeAll はレコード列をまとめて正規化します。
func NormalizeAll(schema *TableSchema, records []remote.RawRecord, fieldMap *FieldMap) []TableRecord {
	out := make([]TableRecord, 0, len(records))
	for _, r := range records {
		out = append(out, Normalize(schema, r, fieldMap))
	}
	return out
}
