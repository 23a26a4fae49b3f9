package schema

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interestRows() []map[string]any {
	products := []string{"Mortgage", "SME Loan", "Credit Card"}
	var rows []map[string]any
	for i := 0; i < 12; i++ {
		rows = append(rows, map[string]any{
			"date":               fmt.Sprintf("2025-01-%02d", i+1),
			"region":             "UK",
			"product":            products[i%3],
			"currency":           "GBP",
			"interest_income":    1200.5 + float64(i),
			"interest_expense":   400.25,
			"avg_earning_assets": 250000.0,
			"record_id":          fmt.Sprintf("INT-%03d", i),
		})
	}
	return rows
}

func field(t *testing.T, info DatasetInfo, key string) FieldInfo {
	t.Helper()
	for _, f := range info.Fields {
		if f.Key == key {
			return f
		}
	}
	require.Failf(t, "field not found", "%s", key)
	return FieldInfo{}
}

func TestDescribe_ClassifiesFields(t *testing.T) {
	info := Describe(DatasetInterest, interestRows(), DescribeOptions{DateField: "date"})

	assert.Equal(t, DatasetInterest, info.Name)
	assert.Equal(t, 12, info.RowCount)
	assert.Equal(t, "date", info.DateField)
	assert.Len(t, info.Fields, 8)

	date := field(t, info, "date")
	assert.Equal(t, KindDate, date.Kind)
	assert.True(t, date.IsTemporal)

	income := field(t, info, "interest_income")
	assert.Equal(t, KindNumber, income.Kind)
	assert.Equal(t, RoleMeasure, income.Role)
	assert.Equal(t, "Interest Income", income.DisplayName)

	product := field(t, info, "product")
	assert.Equal(t, KindString, product.Kind)
	assert.Equal(t, RoleDimension, product.Role)
	assert.Equal(t, []string{"Credit Card", "Mortgage", "SME Loan"}, product.SampleValues)
	assert.Equal(t, "low", product.CardinalityHint)

	assert.True(t, field(t, info, "currency").IsCurrencyCode)
	assert.Equal(t, RoleIdentifier, field(t, info, "record_id").Role)
}

func TestDescribe_MonthAndBoolFields(t *testing.T) {
	rows := []map[string]any{
		{"month": "2025-01", "cash": true},
		{"month": "2025-02", "cash": false},
		{"month": "2025-03", "cash": true},
	}
	info := Describe(DatasetLiquidity, rows)

	assert.Equal(t, KindMonth, field(t, info, "month").Kind)
	assert.Equal(t, KindBool, field(t, info, "cash").Kind)
	assert.Equal(t, []string{"cash", "month"}, info.FieldKeys())
}

func TestDescribe_IntegerCodesAreDimensions(t *testing.T) {
	var rows []map[string]any
	for i := 0; i < 30; i++ {
		rows = append(rows, map[string]any{"stage_ifrs9": float64(i%3 + 1)})
	}
	info := Describe(DatasetLoans, rows)

	stage := field(t, info, "stage_ifrs9")
	assert.Equal(t, KindNumber, stage.Kind)
	assert.Equal(t, RoleDimension, stage.Role)
}

func TestDescribe_SampleCap(t *testing.T) {
	info := Describe(DatasetInterest, interestRows(), DescribeOptions{MaxSamples: 2})
	assert.Len(t, field(t, info, "record_id").SampleValues, 2)
}

func TestDescribe_Empty(t *testing.T) {
	info := Describe(DatasetTransactions, nil)
	assert.Zero(t, info.RowCount)
	assert.Empty(t, info.Fields)
}
