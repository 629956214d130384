package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/blob"
	"github.com/sells-group/landscaper/internal/ingest"
	"github.com/sells-group/landscaper/internal/model"
)

var (
	ingestProject string
	ingestDocType string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Upload a local document into a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read document")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		blobs, err := blob.New(cfg.Blob)
		if err != nil {
			return eris.Wrap(err, "open blob store")
		}

		res, err := ingest.New(st, blobs).Ingest(ctx, ingest.Upload{
			ProjectID: ingestProject,
			Filename:  filepath.Base(args[0]),
			DocType:   model.DocType(ingestDocType),
			Data:      data,
		})
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("ingest complete",
			zap.String("document_id", res.Document.ID),
			zap.String("collision", string(res.Collision)),
			zap.Int("version", res.Document.Version),
		)
		return writeJSONOut(os.Stdout, res)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestProject, "project", "", "project ID (required)")
	ingestCmd.Flags().StringVar(&ingestDocType, "type", string(model.DocTypeRentRoll), "document type (rent_roll, operating_statement, parcel_table)")
	_ = ingestCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(ingestCmd)
}
