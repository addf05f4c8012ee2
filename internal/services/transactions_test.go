package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAmountPrecision_AcceptsWholeCents(t *testing.T) {
	assert.NoError(t, validateAmountPrecision(1250.00))
	assert.NoError(t, validateAmountPrecision(49999.99))
	assert.NoError(t, validateAmountPrecision(0.01))
}

func TestValidateAmountPrecision_RejectsSubCentAmounts(t *testing.T) {
	assert.Error(t, validateAmountPrecision(10.005))
	assert.Error(t, validateAmountPrecision(1.001))
}
