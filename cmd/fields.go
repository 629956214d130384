package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/registry"
	"github.com/sells-group/landscaper/pkg/notion"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Inspect and share canonical fields",
}

var fieldsDocType string

var fieldsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List canonical and custom fields for a document type",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		dt := model.DocType(fieldsDocType)

		reg, err := initRegistry(ctx)
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		custom, err := st.ListCustomFields(ctx, dt)
		if err != nil {
			return eris.Wrap(err, "list custom fields")
		}
		schema, err := reg.WithCustomFields(dt, custom)
		if err != nil {
			return err
		}
		formatFields(os.Stdout, schema)
		return nil
	},
}

var fieldsPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish user-created fields to the Notion synonym database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if cfg.Notion.Token == "" || cfg.Mapping.NotionDB == "" {
			return eris.New("notion token and mapping database are required (LANDSCAPER_NOTION_TOKEN, LANDSCAPER_MAPPING_NOTION_DB)")
		}
		dt := model.DocType(fieldsDocType)
		client := notion.NewClient(cfg.Notion.Token)

		reg, err := registry.LoadNotion(ctx, client, cfg.Mapping.NotionDB, registry.Default())
		if err != nil {
			return err
		}
		published, err := reg.Schema(dt)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		custom, err := st.ListCustomFields(ctx, dt)
		if err != nil {
			return eris.Wrap(err, "list custom fields")
		}
		n, err := publishCustomFields(ctx, client, cfg.Mapping.NotionDB, published, custom)
		if err != nil {
			return err
		}
		zap.L().Info("fields published", zap.String("doc_type", string(dt)), zap.Int("count", n))
		return nil
	},
}

// publishCustomFields creates a Notion page for every custom field not
// already in the published schema.
func publishCustomFields(ctx context.Context, client notion.Client, dbID string, published *model.Schema, custom []model.CanonicalField) (int, error) {
	var n int
	for _, f := range custom {
		if _, ok := published.Field(f.Name); ok {
			continue
		}
		if err := registry.PublishField(ctx, client, dbID, published.DocType, f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// formatFields writes a schema's fields to w.
func formatFields(out io.Writer, s *model.Schema) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTYPE\tREQUIRED\tCUSTOM\tSYNONYMS")
	_, _ = fmt.Fprintln(w, "----\t----\t--------\t------\t--------")
	for _, f := range s.Fields {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\n", f.Name, f.Type, f.Required, f.Custom, len(f.Synonyms))
	}
	_ = w.Flush()
}

func init() {
	fieldsCmd.PersistentFlags().StringVar(&fieldsDocType, "type", string(model.DocTypeRentRoll), "document type (rent_roll, operating_statement, parcel_table)")
	fieldsCmd.AddCommand(fieldsListCmd)
	fieldsCmd.AddCommand(fieldsPublishCmd)
	rootCmd.AddCommand(fieldsCmd)
}
