package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JobKindSync / JobKindVerify は標準のジョブ種別です。
const (
	JobKindSync   = "sync"
	JobKindVerify = "verify"
)

// optionSchemas はジョブ種別ごとの投入オプションのJSONスキーマです。
// 未知の種別はスキーマ無し（検証スキップ）として扱います。
var optionSchemas = map[string]string{
	JobKindSync: `{
		"type": "object",
		"properties": {
			"tableId": {"type": "string", "minLength": 1},
			"full":    {"type": "boolean"},
			"dryRun":  {"type": "boolean"}
		},
		"additionalProperties": false
	}`,
	JobKindVerify: `{
		"type": "object",
		"properties": {
			"tableId": {"type": "string", "minLength": 1},
			"strict":  {"type": "boolean"}
		},
		"additionalProperties": false
	}`,
}

// ValidateOptions は投入オプションを種別ごとのスキーマで検証します。
func ValidateOptions(kind string, options map[string]any) error {
	schemaJSON, ok := optionSchemas[kind]
	if !ok {
		return nil
	}
	if options == nil {
		options = map[string]any{}
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("options.json", strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("options.json")
	if err != nil {
		return fmt.Errorf("failed to compile options schema: %w", err)
	}

	// jsonschema はJSON互換の値を要求するため、一度JSONを経由して正規化します。
	encoded, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}
	var data any
	if err := json.Unmarshal(encoded, &data); err != nil {
		return fmt.Errorf("failed to decode options: %w", err)
	}

	if err := schema.Validate(data); err != nil {
		return fmt.Errorf("options do not match the schema for %q: %w", kind, err)
	}
	return nil
}
