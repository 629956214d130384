package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landscaper/internal/model"
)

func TestFormatTrend(t *testing.T) {
	var buf bytes.Buffer
	formatTrend(&buf, &model.AccuracyTrend{
		PeriodDays:       30,
		TotalCorrections: 12,
		TotalExtractions: 4000,
		CorrectionRate:   0.003,
		Accuracy:         0.997,
		TopCorrectedFields: []model.FieldStat{
			{FieldPath: "current_rent", Corrections: 7, MeanAIConfidence: 0.82, DominantType: model.CorrectionValueWrong, Pattern: "digit_transposition"},
		},
	})
	out := buf.String()

	assert.Contains(t, out, "30 days")
	assert.Contains(t, out, "0.30%")
	assert.Contains(t, out, "99.70%")
	assert.Contains(t, out, "current_rent")
	assert.Contains(t, out, "digit_transposition")
}

func TestFormatTrend_NoFields(t *testing.T) {
	var buf bytes.Buffer
	formatTrend(&buf, &model.AccuracyTrend{PeriodDays: 7, Accuracy: 1})
	assert.NotContains(t, buf.String(), "FIELD")
}

func TestFormatJobStatus(t *testing.T) {
	p := 0.5
	var buf bytes.Buffer
	formatJobStatus(&buf, model.JobStatusView{ID: "0f3c9a2e-1111-2222-3333-444455556666", Status: model.JobRunning, Progress: &p})
	out := buf.String()
	assert.Contains(t, out, "0f3c9a2e")
	assert.NotContains(t, out, "1111")
	assert.Contains(t, out, "50%")

	buf.Reset()
	formatJobStatus(&buf, model.JobStatusView{ID: "j1", Status: model.JobFailed, Error: "exceeded the 15m0s job time limit"})
	assert.Contains(t, buf.String(), "job time limit")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefghijkl"))
	assert.Equal(t, "abc", truncateID("abc"))
}

func TestFormatFields(t *testing.T) {
	var buf bytes.Buffer
	formatFields(&buf, &model.Schema{Fields: []model.CanonicalField{
		{Name: "unit_number", Type: model.FieldText, Required: true, Synonyms: []string{"unit", "apt"}},
		{Name: "pet_fee", Type: model.FieldCurrency, Custom: true},
	}})
	out := buf.String()
	assert.Contains(t, out, "unit_number")
	assert.Contains(t, out, "pet_fee")
}

func TestPublishCustomFields_SkipsPublished(t *testing.T) {
	client := &mockNotionClient{}
	client.On("CreatePage", mock.Anything, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		return string(req.Parent.DatabaseID) == "db-1"
	})).Return(&notionapi.Page{}, nil).Once()

	published := &model.Schema{
		DocType: model.DocTypeRentRoll,
		Fields:  []model.CanonicalField{{Name: "unit_number"}, {Name: "pet_fee"}},
	}
	custom := []model.CanonicalField{
		{Name: "pet_fee", Type: model.FieldCurrency, Custom: true},
		{Name: "parking_spaces", Type: model.FieldNumber, Custom: true},
	}

	n, err := publishCustomFields(context.Background(), client, "db-1", published, custom)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	client.AssertExpectations(t)
}

func TestPublishCustomFields_StopsOnError(t *testing.T) {
	client := &mockNotionClient{}
	client.On("CreatePage", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))

	published := &model.Schema{DocType: model.DocTypeRentRoll}
	n, err := publishCustomFields(context.Background(), client, "db-1", published, []model.CanonicalField{{Name: "a"}, {Name: "b"}})
	require.Error(t, err)
	assert.Equal(t, 0, n)
	client.AssertNumberOfCalls(t, "CreatePage", 1)
}

func TestLocalInput(t *testing.T) {
	testConfig(t)
	path := filepath.Join(t.TempDir(), "Rent Roll.csv")
	require.NoError(t, os.WriteFile(path, []byte(rentRoll), 0o600))

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	in, err := localInput(cmd, path, "rent_roll")
	require.NoError(t, err)
	assert.Equal(t, "Rent Roll.csv", in.Filename)
	assert.Equal(t, model.FileTypeCSV, in.FileType)
	assert.Equal(t, model.DocTypeRentRoll, in.Schema.DocType)

	_, err = localInput(cmd, path, "balance_sheet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown doc type")

	_, err = localInput(cmd, filepath.Join(t.TempDir(), "missing.csv"), "rent_roll")
	require.Error(t, err)
}

func TestProposeCommand_PrintsSummary(t *testing.T) {
	testConfig(t)
	path := filepath.Join(t.TempDir(), "units.csv")
	require.NoError(t, os.WriteFile(path, []byte(rentRoll), 0o600))

	// The command writes to stdout; capture it through a pipe.
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	proposeCmd.SetContext(context.Background())
	proposeDocType = "rent_roll"
	runErr := proposeCmd.RunE(proposeCmd, []string{path})
	w.Close()
	os.Stdout = stdout

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	require.NoError(t, runErr)
	assert.Contains(t, buf.String(), "unit_number")
}
