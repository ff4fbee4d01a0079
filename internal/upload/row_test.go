package upload

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.poresolve.tech/internal/domain/money"
)

func TestCSVRowParser_ParsesRowsWithOptionalRecommendedDate(t *testing.T) {
	csv := "poNumber,poLine,supplierNumber,supplierName,phone,email,facility,dueDate,recommendedDate,totalValue\n" +
		"PO1,1,S1,Acme,+1-000,acme@example.com,Plant A,2025-01-15,2025-01-10,1234.56\n" +
		"PO2,1,S1,Acme,+1-000,acme@example.com,Plant A,2025-02-01,,500.00\n"

	rows, err := CSVRowParser{}.ParseRows(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "PO1", rows[0].PONumber)
	assert.Equal(t, "S1", rows[0].SupplierNumber)
	require.NotNil(t, rows[0].RecommendedDate)
	assert.Equal(t, money.Cents(123456), rows[0].TotalValue)

	assert.Nil(t, rows[1].RecommendedDate)
	assert.Equal(t, money.Cents(50000), rows[1].TotalValue)
}

func TestCSVRowParser_RejectsMalformedDate(t *testing.T) {
	csv := "poNumber,poLine,supplierNumber,supplierName,phone,email,facility,dueDate,recommendedDate,totalValue\n" +
		"PO1,1,S1,Acme,,,,not-a-date,,100.00\n"

	_, err := CSVRowParser{}.ParseRows(strings.NewReader(csv))
	assert.Error(t, err)
}

func TestCSVRowParser_EmptyInputYieldsNoRows(t *testing.T) {
	rows, err := CSVRowParser{}.ParseRows(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
