package registry

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landscaper/internal/model"
)

func makeSynonymPage(id, name, docType, fieldType, synonyms string, required bool, order float64) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			"Name":     &notionapi.TitleProperty{Title: []notionapi.RichText{{PlainText: name}}},
			"DocType":  &notionapi.SelectProperty{Select: notionapi.Option{Name: docType}},
			"Type":     &notionapi.SelectProperty{Select: notionapi.Option{Name: fieldType}},
			"Synonyms": &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: synonyms}}},
			"Required": &notionapi.CheckboxProperty{Checkbox: required},
			"Order":    &notionapi.NumberProperty{Number: order},
		},
	}
}

func TestLoadNotion_ReplacesDocTypeFields(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "syn-db", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				makeSynonymPage("p2", "Current Rent", "rent_roll", "currency", "rent, contract rent", true, 2),
				makeSynonymPage("p1", "Unit Number", "rent_roll", "text", "unit, apt", true, 1),
				makeSynonymPage("p3", "", "rent_roll", "text", "", false, 3),
				makeSynonymPage("p4", "bogus", "lease_abstract", "text", "", false, 4),
			},
		}, nil).Once()

	reg, err := LoadNotion(ctx, mc, "syn-db", Default())
	require.NoError(t, err)

	rr, err := reg.Schema(model.DocTypeRentRoll)
	require.NoError(t, err)
	require.Len(t, rr.Fields, 2)
	assert.Equal(t, "unit_number", rr.Fields[0].Name)
	assert.Equal(t, "current_rent", rr.Fields[1].Name)
	assert.Equal(t, []string{"rent", "contract rent"}, rr.Fields[1].Synonyms)
	assert.Equal(t, "unit_number", rr.IdentityKey)
	assert.Equal(t, 9, rr.AvgFieldsPerRecord)

	// Untouched doc types keep the base tables.
	ps, err := reg.Schema(model.DocTypeParcelTable)
	require.NoError(t, err)
	assert.Equal(t, "parcel_id", ps.Fields[0].Name)
	mc.AssertExpectations(t)
}

func TestLoadNotion_QueryError(t *testing.T) {
	mc := new(mockNotionClient)
	mc.On("QueryDatabase", mock.Anything, "syn-db", mock.Anything).Return(nil, assert.AnError)

	_, err := LoadNotion(context.Background(), mc, "syn-db", Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry: load notion synonyms")
}

func TestPublishField(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		title, ok := req.Properties["Name"].(notionapi.TitleProperty)
		dt, ok2 := req.Properties["DocType"].(notionapi.SelectProperty)
		return ok && ok2 &&
			string(req.Parent.DatabaseID) == "syn-db" &&
			title.Title[0].Text.Content == "pet_fee" &&
			dt.Select.Name == "rent_roll"
	})).Return(&notionapi.Page{ID: "new"}, nil).Once()

	err := PublishField(ctx, mc, "syn-db", model.DocTypeRentRoll, model.CanonicalField{
		Name: "pet_fee", Type: model.FieldCurrency, Synonyms: []string{"pet fee"},
	})
	require.NoError(t, err)
	mc.AssertExpectations(t)
}
