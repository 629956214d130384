package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/extract"
	"github.com/sells-group/landscaper/internal/mapping"
	"github.com/sells-group/landscaper/internal/model"
)

var (
	extractDocType string
	proposeDocType string
)

// localInput reads a document from disk and resolves its schema.
func localInput(cmd *cobra.Command, path, docType string) (extract.Input, error) {
	dt := model.DocType(docType)
	if !dt.Valid() {
		return extract.Input{}, eris.Errorf("unknown doc type %q", docType)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return extract.Input{}, eris.Wrap(err, "read document")
	}
	reg, err := initRegistry(cmd.Context())
	if err != nil {
		return extract.Input{}, err
	}
	schema, err := reg.Schema(dt)
	if err != nil {
		return extract.Input{}, err
	}
	name := filepath.Base(path)
	return extract.Input{
		Filename: name,
		FileType: model.FileTypeFromName(name),
		Data:     data,
		Schema:   schema,
	}, nil
}

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract records from a local document and print them as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("extract"); err != nil {
			return err
		}
		in, err := localInput(cmd, args[0], extractDocType)
		if err != nil {
			return err
		}
		ex, err := initExtractor()
		if err != nil {
			return err
		}

		res, err := ex.Extract(cmd.Context(), in)
		if err != nil {
			return eris.Wrap(err, "extract")
		}
		zap.L().Info("extraction complete",
			zap.String("file", in.Filename),
			zap.String("method", res.Metadata.MethodUsed),
			zap.Int("records", len(res.Records)),
			zap.Int("warnings", len(res.Warnings)),
		)
		return writeJSONOut(os.Stdout, res)
	},
}

var proposeCmd = &cobra.Command{
	Use:   "propose <file>",
	Short: "Propose a column mapping for a local spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("extract"); err != nil {
			return err
		}
		in, err := localInput(cmd, args[0], proposeDocType)
		if err != nil {
			return err
		}
		ex, err := initExtractor()
		if err != nil {
			return err
		}

		samples := cfg.Extract.SampleValues
		p, err := ex.Preview(cmd.Context(), in, samples*2)
		if err != nil {
			return eris.Wrap(err, "preview")
		}
		opts := mapping.DefaultOptions()
		if samples > 0 {
			opts.MaxSamples = samples
		}
		prop := mapping.Propose(in.Schema, p.Headers, p.Samples, opts)
		_, _ = fmt.Fprintln(os.Stdout, prop.Summary())
		return nil
	},
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	extractCmd.Flags().StringVar(&extractDocType, "type", string(model.DocTypeRentRoll), "document type (rent_roll, operating_statement, parcel_table)")
	proposeCmd.Flags().StringVar(&proposeDocType, "type", string(model.DocTypeRentRoll), "document type (rent_roll, operating_statement, parcel_table)")
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(proposeCmd)
}
