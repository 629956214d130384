package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landscaper/internal/model"
)

func rec(row int, fields map[string]any) model.ExtractedRecord {
	r := model.ExtractedRecord{RowIndex: row, Fields: map[string]model.FieldValue{}}
	for k, v := range fields {
		r.Fields[k] = model.FieldValue{Value: v, Confidence: 1}
	}
	return r
}

func TestValidate_RentRoll(t *testing.T) {
	schema := schemaFor(t, model.DocTypeRentRoll)
	records := []model.ExtractedRecord{
		rec(0, map[string]any{"unit_number": "101", "current_rent": 1200.0, "market_rent": 1100.0}),
		rec(1, map[string]any{"unit_number": "102", "current_rent": 900.0, "lease_start": "2024-06-01", "lease_end": "2024-01-01"}),
		rec(2, map[string]any{"unit_number": "101", "current_rent": 950.0, "square_feet": 20.0}),
		rec(3, map[string]any{"current_rent": 1000.0, "security_deposit": -5.0}),
	}

	ws := Validate(schema, DefaultRules[model.DocTypeRentRoll], records)
	byRow := map[int][]model.ValidationWarning{}
	for _, w := range ws {
		byRow[w.RowIndex] = append(byRow[w.RowIndex], w)
	}

	require.Len(t, byRow[0], 1)
	assert.Equal(t, "current_rent", byRow[0][0].FieldPath)
	assert.Contains(t, byRow[0][0].Message, "exceeds market rent")

	require.Len(t, byRow[1], 1)
	assert.Equal(t, "lease_start", byRow[1][0].FieldPath)

	require.Len(t, byRow[2], 2)
	assert.Equal(t, model.SeverityInfo, byRow[2][0].Severity)
	assert.Contains(t, byRow[2][1].Message, "first at row 0")

	require.Len(t, byRow[3], 2)
	assert.Equal(t, model.SeverityError, byRow[3][0].Severity)
	assert.Equal(t, "security_deposit", byRow[3][1].FieldPath)

	for i := 1; i < len(ws); i++ {
		assert.LessOrEqual(t, ws[i-1].RowIndex, ws[i].RowIndex)
	}
}

func TestValidate_ParcelSuggestions(t *testing.T) {
	schema := schemaFor(t, model.DocTypeParcelTable)
	records := []model.ExtractedRecord{
		rec(0, map[string]any{"parcel_id": "P1", "acres_gross": 10.0, "acres_net": 12.0}),
		rec(1, map[string]any{"parcel_id": "P2", "acres_gross": 10.0, "acres_net": 8.0, "units": 40.0, "density": 3.0}),
		rec(2, map[string]any{"parcel_id": "P3", "acres_gross": 10.0, "acres_net": 8.0, "units": 40.0, "density": 5.1}),
	}
	ws := Validate(schema, DefaultRules[model.DocTypeParcelTable], records)
	require.Len(t, ws, 2)

	assert.Equal(t, "acres_net", ws[0].FieldPath)
	assert.Equal(t, 10.0, ws[0].SuggestedValue)

	assert.Equal(t, 1, ws[1].RowIndex)
	assert.Equal(t, "density", ws[1].FieldPath)
	assert.Equal(t, 5.0, ws[1].SuggestedValue)
}

func TestValidate_SkipsRulesForMissingFields(t *testing.T) {
	schema := &model.Schema{DocType: model.DocTypeRentRoll, Fields: []model.CanonicalField{{Name: "unit_number"}}}
	ws := Validate(schema, DefaultRules[model.DocTypeRentRoll], []model.ExtractedRecord{
		rec(0, map[string]any{"unit_number": "1", "current_rent": 5.0, "market_rent": 1.0}),
	})
	assert.Empty(t, ws)
}
