package table

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// 日付型の正常範囲（エポックミリ秒）。範囲外は欠損値として扱います。
const (
	dateEpochMin = int64(0)             // 1970-01-01T00:00:00Z
	dateEpochMax = int64(4102444800000) // 2100-01-01T00:00:00Z
)

// FieldMeta は ParsedField からフィールド定義への参照情報です。
// スキーマ本体は再同期で置き換わるため、必要な属性だけを複製して持ちます。
type FieldMeta struct {
	FieldName string    `json:"fieldName"`
	DataKey   string    `json:"dataKey"`
	FieldType FieldType `json:"fieldType"`
}

// ParsedField はフィールド値の3表現（生値・解釈値・表示値）を束ねたものです。
type ParsedField struct {
	Raw       any       `json:"raw"`
	Parsed    any       `json:"parsed"`
	Formatted string    `json:"formatted"`
	IsFormula bool      `json:"isFormula"`
	IsEmpty   bool      `json:"isEmpty"`
	Meta      FieldMeta `json:"meta"`
}

// Decode はリモートの生値を ParsedField に変換します。
// 値が不正でもエラーにはせず、欠損値（IsEmpty）として畳み込みます。
func Decode(fs FieldSchema, raw any) ParsedField {
	pf := ParsedField{
		Raw:       raw,
		IsFormula: fs.IsFormula,
		Meta: FieldMeta{
			FieldName: fs.FieldName,
			DataKey:   fs.FieldName,
			FieldType: fs.FieldType,
		},
	}

	if isEmptyRaw(raw) {
		pf.IsEmpty = true
		pf.Parsed = zeroValue(fs.FieldType)
		pf.Formatted = ""
		return pf
	}

	switch fs.FieldType {
	case FieldTypeNumber:
		num, ok := toFloat(raw)
		if !ok {
			return emptyField(pf, fs.FieldType)
		}
		pf.Parsed = num
		pf.Formatted = formatNumber(num)
	case FieldTypeCurrency:
		num, ok := toFloat(raw)
		if !ok {
			return emptyField(pf, fs.FieldType)
		}
		pf.Parsed = num
		pf.Formatted = "¥" + formatNumber(num)
	case FieldTypeDate:
		ms, ok := toEpochMillis(raw)
		if !ok || ms < dateEpochMin || ms >= dateEpochMax {
			return emptyField(pf, fs.FieldType)
		}
		t := time.UnixMilli(ms).UTC()
		// RFC3339Nano でミリ秒成分を落とさずに保持します（ゼロなら小数部は付きません）。
		pf.Parsed = t.Format(time.RFC3339Nano)
		pf.Formatted = t.Format("2006/01/02")
	case FieldTypeCheckbox:
		b, ok := raw.(bool)
		if !ok {
			return emptyField(pf, fs.FieldType)
		}
		pf.Parsed = b
		if b {
			pf.Formatted = "✓"
		}
	case FieldTypeSingleSelect:
		label := toLabel(raw)
		if label == "" {
			return emptyField(pf, fs.FieldType)
		}
		pf.Parsed = label
		pf.Formatted = label
	case FieldTypeMultiSelect:
		labels := toLabels(raw)
		if len(labels) == 0 {
			return emptyField(pf, fs.FieldType)
		}
		pf.Parsed = labels
		pf.Formatted = strings.Join(labels, ", ")
	case FieldTypeFormula, FieldTypeLookup:
		// 数式・参照系は型が実行時にしか分からないため、値の形から解釈します。
		if num, ok := toFloat(raw); ok {
			pf.Parsed = num
			pf.Formatted = formatNumber(num)
		} else if labels := toLabels(raw); len(labels) > 1 {
			pf.Parsed = labels
			pf.Formatted = strings.Join(labels, ", ")
		} else {
			str := toLabel(raw)
			pf.Parsed = str
			pf.Formatted = str
		}
	default:
		str := toLabel(raw)
		pf.Parsed = str
		pf.Formatted = str
	}
	return pf
}

// Encode は内部キー指定の値をリモートの書き込み形式へ変換します。
// スキーマに無いキーと数式系フィールドは黙って捨てます。結果が空の場合、
// 呼び出し側は「書くものがない」として扱う必要があります。
func Encode(schema *TableSchema, values map[string]any, fieldMap *FieldMap) map[string]any {
	out := make(map[string]any)
	if schema == nil {
		return out
	}

	for key, value := range values {
		fieldName := key
		if fieldMap != nil {
			if mapped, ok := fieldMap.FieldNameForKey(key); ok {
				fieldName = mapped
			}
		}
		fs, ok := schema.FieldByName(fieldName)
		if !ok {
			continue
		}
		if fs.IsFormula {
			continue
		}
		if fieldMap != nil && !fieldMap.Writable(key) {
			continue
		}
		wire, ok := encodeValue(fs, value)
		if !ok {
			continue
		}
		out[fs.FieldName] = wire
	}
	return out
}

// encodeValue は Decode の逆方向の1フィールド分の変換です。
func encodeValue(fs FieldSchema, value any) (any, bool) {
	if value == nil {
		return nil, false
	}
	switch fs.FieldType {
	case FieldTypeNumber, FieldTypeCurrency:
		num, ok := toFloat(value)
		if !ok {
			return nil, false
		}
		return num, true
	case FieldTypeDate:
		switch v := value.(type) {
		case time.Time:
			return v.UnixMilli(), true
		case string:
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, false
			}
			return t.UnixMilli(), true
		default:
			ms, ok := toEpochMillis(value)
			if !ok {
				return nil, false
			}
			return ms, true
		}
	case FieldTypeCheckbox:
		b, ok := value.(bool)
		if !ok {
			return nil, false
		}
		return b, true
	case FieldTypeMultiSelect:
		labels := toLabels(value)
		if len(labels) == 0 {
			return nil, false
		}
		return labels, true
	default:
		label := toLabel(value)
		if label == "" {
			return nil, false
		}
		return label, true
	}
}

func emptyField(pf ParsedField, ft FieldType) ParsedField {
	pf.IsEmpty = true
	pf.Parsed = zeroValue(ft)
	pf.Formatted = ""
	return pf
}

// zeroValue は型ごとの内部的なゼロ値を返します。
func zeroValue(ft FieldType) any {
	switch ft {
	case FieldTypeNumber, FieldTypeCurrency:
		return float64(0)
	case FieldTypeCheckbox:
		return false
	case FieldTypeMultiSelect:
		return []string{}
	default:
		return ""
	}
}

func isEmptyRaw(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	default:
		return false
	}
}

// toFloat は数値系の生値を float64 に変換します。
func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toEpochMillis は日付系の生値をエポックミリ秒に変換します。
func toEpochMillis(raw any) (int64, bool) {
	num, ok := toFloat(raw)
	if !ok {
		return 0, false
	}
	if num != math.Trunc(num) {
		return 0, false
	}
	return int64(num), true
}

// toLabel は生値を表示用文字列に変換します。
func toLabel(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case map[string]any:
		// 選択肢やリンクは {name: ...} / {text: ...} 形式で届くことがあります。
		if name, ok := v["name"].(string); ok {
			return name
		}
		if text, ok := v["text"].(string); ok {
			return text
		}
		return ""
	case []any:
		labels := toLabels(v)
		return strings.Join(labels, ", ")
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return formatNumber(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toLabels は複数選択系の生値をラベル列に変換します。
func toLabels(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		labels := make([]string, 0, len(v))
		for _, item := range v {
			if label := toLabel(item); label != "" {
				labels = append(labels, label)
			}
		}
		return labels
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// formatNumber は3桁区切りの表示文字列を生成します。小数部は値がある場合のみ付けます。
func formatNumber(num float64) string {
	neg := num < 0
	abs := math.Abs(num)

	var digits, frac string
	if abs == math.Trunc(abs) {
		digits = strconv.FormatFloat(abs, 'f', 0, 64)
	} else {
		s := strconv.FormatFloat(abs, 'f', 2, 64)
		digits, frac = s[:len(s)-3], s[len(s)-3:]
	}

	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}

	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}
