package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFlowKey(t *testing.T) {
	assert.NoError(t, ValidateFlowKey("BAOXIAO"))
	assert.NoError(t, ValidateFlowKey("PURCHASE_V2"))
	assert.Error(t, ValidateFlowKey("baoxiao"))
	assert.Error(t, ValidateFlowKey(""))
	assert.Error(t, ValidateFlowKey("A"))
	assert.Error(t, ValidateFlowKey("BAO XIAO"))
}

func TestValidateOperator(t *testing.T) {
	assert.NoError(t, ValidateOperator("alice"))
	assert.Error(t, ValidateOperator("   "))
	assert.Error(t, ValidateOperator(string(make([]byte, 65))))
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(0))
	assert.NoError(t, ValidateAmount(150000))
	assert.Error(t, ValidateAmount(-1))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "missing receipt", SanitizeString("missing\x00 receipt\x7f"))
}
