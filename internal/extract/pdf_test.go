package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landscaper/internal/model"
)

// word lays out s as fixed-width glyphs starting at x on baseline y.
func word(s string, x, y float64) []glyph {
	var gs []glyph
	for i, r := range s {
		gs = append(gs, glyph{x: x + float64(i)*6, y: y, w: 6, size: 10, s: string(r)})
	}
	return gs
}

func TestSplitTextLine(t *testing.T) {
	assert.Equal(t, []string{"101", "Ann Lee", "$900"}, splitTextLine("  101    Ann Lee     $900  "))
	assert.Equal(t, []string{"101", "Ann Lee", "$900"}, splitTextLine("101\tAnn Lee\t$900"))
	assert.Equal(t, []string{"101", "Ann Lee", "$900"}, splitTextLine("| 101 | Ann Lee | $900 |"))
	assert.True(t, markdownRule.MatchString("|---|:---:|---|"))
	assert.False(t, markdownRule.MatchString("| 101 | Ann | 900 |"))
}

func TestGroupLines_ClustersBaselinesAndCells(t *testing.T) {
	var gs []glyph
	gs = append(gs, word("Unit", 50, 700)...)
	gs = append(gs, word("Tenant", 150, 700.5)...)
	gs = append(gs, word("Rent", 300, 699.8)...)
	gs = append(gs, word("101", 50, 680)...)
	// Words separated by a normal space stay in one cell.
	gs = append(gs, word("Ann", 150, 680)...)
	gs = append(gs, word("Lee", 150+3*6+4, 680)...)
	gs = append(gs, word("900", 300, 680)...)

	lines := groupLines(1, gs)
	require.Len(t, lines, 2)

	texts := func(l geoLine) []string {
		var out []string
		for _, c := range l.cells {
			out = append(out, c.text)
		}
		return out
	}
	assert.Equal(t, []string{"Unit", "Tenant", "Rent"}, texts(lines[0]))
	assert.Equal(t, []string{"101", "Ann Lee", "900"}, texts(lines[1]))
	assert.Equal(t, "101 Ann Lee 900", lines[1].raw)
}

func TestGeometryTable_AssignsCellsToNearestHeader(t *testing.T) {
	var gs []glyph
	gs = append(gs, word("Unit", 50, 700)...)
	gs = append(gs, word("Tenant", 150, 700)...)
	gs = append(gs, word("Rent", 300, 700)...)
	gs = append(gs, word("101", 52, 680)...)
	gs = append(gs, word("Ann", 160, 680)...)
	gs = append(gs, word("900", 296, 680)...)
	// Missing tenant: rent must still land in the rent column.
	gs = append(gs, word("102", 52, 660)...)
	gs = append(gs, word("950", 296, 660)...)

	tbl := geometryTable(groupLines(1, gs), schemaFor(t, model.DocTypeRentRoll))
	require.NotNil(t, tbl)
	assert.Equal(t, []string{"Unit", "Tenant", "Rent"}, tbl.headers)
	require.Len(t, tbl.rows, 2)
	assert.Equal(t, []string{"101", "Ann", "900"}, tbl.rows[0].cells)
	assert.Equal(t, []string{"102", "", "950"}, tbl.rows[1].cells)
}

func TestGeometryTable_NoHeaderIsUnusable(t *testing.T) {
	gs := word("Lorem ipsum dolor", 50, 700)
	assert.Nil(t, geometryTable(groupLines(1, gs), schemaFor(t, model.DocTypeRentRoll)))
}

func TestLinesToTable_TextLayer(t *testing.T) {
	lines := []textLine{
		{page: 1, text: "Sunset Apartments"},
		{page: 1, text: "Unit    Tenant      Market Rent    Rent"},
		{page: 1, text: "101     Ann Lee     1,000          900"},
		{page: 2, text: "Unit    Tenant      Market Rent    Rent"},
		{page: 2, text: "102     Bob Ray     1,000          950"},
	}
	tbl := linesToTable(lines, schemaFor(t, model.DocTypeRentRoll))
	require.NotNil(t, tbl)
	require.Len(t, tbl.rows, 2, "repeated page header is skipped")
	assert.Equal(t, 2, tbl.rows[1].page)
	assert.Equal(t, "102     Bob Ray     1,000          950", tbl.rows[1].raw)
}

func TestOpenPDF_MinimalDocument(t *testing.T) {
	doc, err := openPDF(minimalPDF())
	require.NoError(t, err)
	assert.Equal(t, 1, doc.numPages())
	assert.Empty(t, doc.textLayerLines())
}
