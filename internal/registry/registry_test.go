package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landscaper/internal/model"
)

func TestParse_EmbeddedSynonyms(t *testing.T) {
	reg, err := Parse(defaultSynonyms)
	require.NoError(t, err)

	rr, err := reg.Schema(model.DocTypeRentRoll)
	require.NoError(t, err)
	unit, ok := rr.Field("unit_number")
	require.True(t, ok)
	assert.Contains(t, unit.Synonyms, "unit #")
	assert.Contains(t, unit.Synonyms, "bldg unit")

	stmt, err := reg.Schema(model.DocTypeOperatingStatement)
	require.NoError(t, err)
	for _, f := range stmt.Fields {
		for _, syn := range f.Synonyms {
			assert.NotEmpty(t, syn, "field %s", f.Name)
		}
	}
}

func TestDefault_AllDocTypes(t *testing.T) {
	reg := Default()
	assert.Equal(t, []model.DocType{
		model.DocTypeOperatingStatement,
		model.DocTypeParcelTable,
		model.DocTypeRentRoll,
	}, reg.DocTypes())

	rr, err := reg.Schema(model.DocTypeRentRoll)
	require.NoError(t, err)
	assert.Equal(t, model.DocTypeRentRoll, rr.DocType)
	assert.Equal(t, "unit_number", rr.IdentityKey)
	assert.Equal(t, "unit_number", rr.Fields[0].Name)
	assert.Contains(t, rr.Required(), "current_rent")

	f, ok := rr.Field("tenant_name")
	require.True(t, ok)
	assert.Contains(t, f.Synonyms, "lessee")
	assert.Equal(t, 9, reg.AvgFieldsPerRecord(model.DocTypeRentRoll))
	assert.Equal(t, 1, reg.AvgFieldsPerRecord("unknown"))
}

func TestSchema_ReturnsCopy(t *testing.T) {
	reg := Default()
	s, err := reg.Schema(model.DocTypeParcelTable)
	require.NoError(t, err)
	s.Fields[0].Synonyms[0] = "mutated"

	again, err := reg.Schema(model.DocTypeParcelTable)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Fields[0].Synonyms[0])
}

func TestSchema_Unknown(t *testing.T) {
	_, err := Default().Schema("lease_abstract")
	assert.Error(t, err)
}

func TestWithCustomFields_AppendsAfterDeclared(t *testing.T) {
	reg := Default()
	base, _ := reg.Schema(model.DocTypeRentRoll)

	s, err := reg.WithCustomFields(model.DocTypeRentRoll, []model.CanonicalField{
		{Name: "pet_fee", Synonyms: []string{"pet fee"}},
		{Name: "unit_number"},
	})
	require.NoError(t, err)
	require.Len(t, s.Fields, len(base.Fields)+1)
	last := s.Fields[len(s.Fields)-1]
	assert.Equal(t, "pet_fee", last.Name)
	assert.True(t, last.Custom)
	assert.Equal(t, model.FieldText, last.Type)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "synonyms.yaml")
	yml := `
parcel_table:
  identity_key: parcel_id
  fields:
    - name: parcel_id
      required: true
      synonyms: [apn]
    - name: acres_gross
      type: number
      synonyms: [gross acres]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	s, err := reg.Schema(model.DocTypeParcelTable)
	require.NoError(t, err)
	assert.Len(t, s.Fields, 2)
	assert.Equal(t, model.FieldText, s.Fields[0].Type)
	assert.Equal(t, 2, s.AvgFieldsPerRecord)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		want string
	}{
		{"unknown doc type", "lease_abstract:\n  fields:\n    - name: a\n", "unknown doc type"},
		{"no fields", "rent_roll:\n  identity_key: unit\n", "has no fields"},
		{"duplicate", "rent_roll:\n  fields:\n    - name: a\n    - name: a\n", "duplicate field"},
		{"bad identity", "rent_roll:\n  identity_key: zz\n  fields:\n    - name: a\n", "identity key"},
		{"bad yaml", "rent_roll: [", "unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile_EmptyPathUsesDefault(t *testing.T) {
	reg, err := LoadFile("")
	require.NoError(t, err)
	assert.Len(t, reg.DocTypes(), 3)
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "pet_fee", SnakeCase("  Pet Fee "))
	assert.Equal(t, "rent_psf", SnakeCase("Rent / PSF"))
	assert.Equal(t, "unit_2br", SnakeCase("Unit-2BR!"))
	assert.Equal(t, "", SnakeCase("$$"))
}
