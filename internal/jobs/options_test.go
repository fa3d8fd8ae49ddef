package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOptionsSync(t *testing.T) {
	err := ValidateOptions(JobKindSync, map[string]any{
		"tableId": "tbl1",
		"full":    true,
	})
	assert.NoError(t, err)
}

func TestValidateOptionsRejectsUnknownProperty(t *testing.T) {
	err := ValidateOptions(JobKindSync, map[string]any{
		"tableId": "tbl1",
		"bogus":   1,
	})
	require.Error(t, err)
}

func TestValidateOptionsRejectsWrongType(t *testing.T) {
	err := ValidateOptions(JobKindVerify, map[string]any{
		"strict": "yes",
	})
	require.Error(t, err)
}

func TestValidateOptionsNilOptions(t *testing.T) {
	assert.NoError(t, ValidateOptions(JobKindSync, nil))
}

func TestValidateOptionsUnknownKindSkipsValidation(t *testing.T) {
	assert.NoError(t, ValidateOptions("custom", map[string]any{"whatever": 1}))
}
