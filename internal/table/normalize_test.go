package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/sheet-bridge/internal/remote"
)

func ordersSchema() *TableSchema {
	return &TableSchema{
		TableID: "tbl_orders",
		Fields: []FieldSchema{
			{FieldID: "fld1", FieldName: "订单号", FieldType: FieldTypeText},
			{FieldID: "fld2", FieldName: "订单金额", FieldType: FieldTypeCurrency},
		},
		SyncedAt: testTime(),
	}
}

func TestNormalizeOrderScenario(t *testing.T) {
	record := remote.RawRecord{
		RecordID: "rec1",
		Fields: map[string]any{
			"订单号":  "1001",
			"订单金额": float64(1000),
		},
	}

	out := Normalize(ordersSchema(), record, nil)

	require.Len(t, out.Fields, 2)
	assert.Equal(t, "1001", out.Fields["订单号"].Parsed)
	assert.Equal(t, float64(1000), out.Fields["订单金额"].Parsed)
	assert.Equal(t, "¥1,000", out.Fields["订单金额"].Formatted)
}

func TestNormalizeIsSchemaDriven(t *testing.T) {
	record := remote.RawRecord{
		RecordID: "rec1",
		Fields: map[string]any{
			"订单号":   "1001",
			"余計なキー": "dropped", // スキーマに無いキーは fields に現れない
		},
	}

	out := Normalize(ordersSchema(), record, nil)

	// 出力の形はスキーマにのみ従う: スキーマの全フィールドが必ず存在する
	require.Len(t, out.Fields, 2)
	_, hasExtra := out.Fields["余計なキー"]
	assert.False(t, hasExtra)

	// レコード側に値が無いフィールドは欠損値になる
	amount := out.Fields["订单金额"]
	assert.True(t, amount.IsEmpty)

	// デバッグ用の生データは保持される
	assert.Equal(t, "dropped", out.Raw["余計なキー"])
}

func TestNormalizeMetaMatchesSchema(t *testing.T) {
	schema := ordersSchema()
	record := remote.RawRecord{RecordID: "rec1", Fields: map[string]any{"订单号": "1001"}}

	out := Normalize(schema, record, nil)

	for _, pf := range out.Fields {
		_, ok := schema.FieldByName(pf.Meta.FieldName)
		assert.True(t, ok, "meta.fieldName %q must exist in schema", pf.Meta.FieldName)
	}
}

func TestNormalizeAppliesFieldMap(t *testing.T) {
	fm := newFieldMap("orders")
	fm.add("订单号", FieldAlias{Key: "orderNo"})
	fm.add("订单金额", FieldAlias{Key: "amount"})

	record := remote.RawRecord{
		RecordID: "rec1",
		Fields: map[string]any{
			"订单号":  "1001",
			"订单金额": float64(250),
		},
	}

	out := Normalize(ordersSchema(), record, fm)

	require.Len(t, out.Fields, 2)
	assert.Equal(t, "1001", out.Fields["orderNo"].Parsed)
	assert.Equal(t, float64(250), out.Fields["amount"].Parsed)
	assert.Equal(t, "amount", out.Fields["amount"].Meta.DataKey)
	assert.Equal(t, "订单金额", out.Fields["amount"].Meta.FieldName)
}

func TestNormalizeAll(t *testing.T) {
	records := []remote.RawRecord{
		{RecordID: "rec1", Fields: map[string]any{"订单号": "1001"}},
		{RecordID: "rec2", Fields: map[string]any{"订单号": "1002"}},
	}

	out := NormalizeAll(ordersSchema(), records, nil)
	require.Len(t, out, 2)
	assert.Equal(t, "rec1", out[0].RecordID)
	assert.Equal(t, "1002", out[1].Fields["订单号"].Parsed)
}
