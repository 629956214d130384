package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/pkg/notion"
)

// Notion synonym database columns.
const (
	propName     = "Name"     // title: canonical field name
	propDocType  = "DocType"  // select
	propType     = "Type"     // select
	propLabel    = "Label"    // rich_text
	propRequired = "Required" // checkbox
	propSynonyms = "Synonyms" // rich_text, comma separated
	propOrder    = "Order"    // number
	propActive   = "Active"   // checkbox
)

type notionField struct {
	docType model.DocType
	order   float64
	field   model.CanonicalField
}

// LoadNotion builds a registry from the active rows of a Notion synonym
// database. Doc types present in Notion replace the field lists of base;
// identity keys and avg-fields constants always come from base.
func LoadNotion(ctx context.Context, client notion.Client, dbID string, base *Registry) (*Registry, error) {
	pages, err := notion.QueryActive(ctx, client, dbID)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load notion synonyms")
	}

	byType := make(map[model.DocType][]notionField)
	for _, p := range pages {
		nf, err := parseFieldPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed synonym row",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		byType[nf.docType] = append(byType[nf.docType], nf)
	}

	schemas := make(map[model.DocType]*model.Schema, len(base.schemas))
	for dt, s := range base.schemas {
		schemas[dt] = cloneSchema(s)
	}
	for dt, rows := range byType {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].order < rows[j].order })
		s, ok := schemas[dt]
		if !ok {
			s = &model.Schema{DocType: dt}
			schemas[dt] = s
		}
		s.Fields = s.Fields[:0]
		for _, r := range rows {
			s.Fields = append(s.Fields, r.field)
		}
		if err := validateSchema(s); err != nil {
			return nil, eris.Wrapf(err, "registry: notion doc type %s", dt)
		}
	}
	return New(schemas), nil
}

// PublishField appends a user-created field to the Notion synonym database so
// other deployments pick it up on their next load.
func PublishField(ctx context.Context, client notion.Client, dbID string, dt model.DocType, f model.CanonicalField) error {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{Type: notionapi.ParentTypeDatabaseID, DatabaseID: notionapi.DatabaseID(dbID)},
		Properties: notionapi.Properties{
			propName:     notionapi.TitleProperty{Type: notionapi.PropertyTypeTitle, Title: richText(f.Name)},
			propDocType:  notionapi.SelectProperty{Type: notionapi.PropertyTypeSelect, Select: notionapi.Option{Name: string(dt)}},
			propType:     notionapi.SelectProperty{Type: notionapi.PropertyTypeSelect, Select: notionapi.Option{Name: string(f.Type)}},
			propLabel:    notionapi.RichTextProperty{Type: notionapi.PropertyTypeRichText, RichText: richText(f.Label)},
			propSynonyms: notionapi.RichTextProperty{Type: notionapi.PropertyTypeRichText, RichText: richText(strings.Join(f.Synonyms, ", "))},
			propActive:   notionapi.CheckboxProperty{Type: notionapi.PropertyTypeCheckbox, Checkbox: true},
		},
	}
	if _, err := client.CreatePage(ctx, req); err != nil {
		return eris.Wrapf(err, "registry: publish field %s", f.Name)
	}
	return nil
}

func parseFieldPage(p notionapi.Page) (notionField, error) {
	var nf notionField

	if tp, ok := p.Properties[propName].(*notionapi.TitleProperty); ok {
		nf.field.Name = SnakeCase(plainText(tp.Title))
	}
	if sp, ok := p.Properties[propDocType].(*notionapi.SelectProperty); ok {
		nf.docType = model.DocType(sp.Select.Name)
	}
	if sp, ok := p.Properties[propType].(*notionapi.SelectProperty); ok {
		nf.field.Type = model.FieldType(sp.Select.Name)
	}
	if rp, ok := p.Properties[propLabel].(*notionapi.RichTextProperty); ok {
		nf.field.Label = plainText(rp.RichText)
	}
	if cp, ok := p.Properties[propRequired].(*notionapi.CheckboxProperty); ok {
		nf.field.Required = cp.Checkbox
	}
	if rp, ok := p.Properties[propSynonyms].(*notionapi.RichTextProperty); ok {
		for _, s := range strings.Split(plainText(rp.RichText), ",") {
			if s = strings.TrimSpace(s); s != "" {
				nf.field.Synonyms = append(nf.field.Synonyms, s)
			}
		}
	}
	if np, ok := p.Properties[propOrder].(*notionapi.NumberProperty); ok {
		nf.order = np.Number
	}

	if nf.field.Name == "" {
		return nf, eris.New("missing Name property")
	}
	if !nf.docType.Valid() {
		return nf, eris.Errorf("unknown DocType %q", nf.docType)
	}
	return nf, nil
}

func plainText(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		s += rt.PlainText
	}
	return s
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}}
}
