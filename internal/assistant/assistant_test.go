package assistant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/extract"
	"github.com/sells-group/landscaper/internal/jobs"
	"github.com/sells-group/landscaper/internal/mapping"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/registry"
	"github.com/sells-group/landscaper/internal/review"
	"github.com/sells-group/landscaper/internal/toolloop"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const docID = "doc-1"

type fixture struct {
	svc      *Service
	client   *mockClient
	jobs     *mockJobs
	reviewer *mockReviewer
	records  *mockRecords
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{client: &mockClient{}, jobs: &mockJobs{}, reviewer: &mockReviewer{}, records: &mockRecords{}}
	budget := toolloop.Budget{MaxIterations: 5, MaxDuration: time.Minute, MaxResultChars: 4000, MaxHistoryMessages: 40, MaxTools: 10}
	f.svc = New(f.client, f.jobs, f.reviewer, f.records, budget, 3)
	return f
}

func (f *fixture) expectPreview(t *testing.T) {
	t.Helper()
	schema, err := registry.Default().Schema(model.DocTypeRentRoll)
	require.NoError(t, err)
	doc := &model.Document{ID: docID, Filename: "rr.xlsx", FileType: model.FileTypeXLSX, DocType: model.DocTypeRentRoll}
	f.jobs.On("Preview", mock.Anything, docID).Return(doc, schema, &extract.Preview{
		Headers:  []string{"Unit", "Tenant Name", "Rent Amt", "Pets"},
		Samples:  [][]string{{"101", "Acme", "1,000", "no"}, {"102", "Vacant", "", ""}, {"103", "Bo", "900", "cat"}, {"104", "Cy", "950", ""}},
		RowCount: 4,
		Method:   "xlsx",
	}, nil)
}

// turn scripts one model tool call followed by a plain answer.
func (f *fixture) turn(id, tool string, input any, answer string) {
	f.client.On("CreateMessage", mock.Anything, mock.Anything).Return(toolResponse(id, tool, input), nil).Once()
	f.client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(answer), nil).Once()
}

func draftTarget(draft []model.FieldMapping, header string) string {
	for _, m := range draft {
		if m.SourceHeader == header {
			return m.CanonicalField
		}
	}
	return "?"
}

func TestSession_ProposeEditConfirm(t *testing.T) {
	f := newFixture(t)
	f.expectPreview(t)
	ctx := context.Background()
	sess, err := f.svc.Session(docID)
	require.NoError(t, err)

	f.turn("tu_1", "propose_mapping", map[string]any{}, "Here is the proposal.")
	res, err := sess.Send(ctx, "propose a mapping")
	require.NoError(t, err)
	assert.Equal(t, toolloop.StateDone, res.State)
	require.Len(t, res.ToolCalls, 1)
	assert.False(t, res.ToolCalls[0].IsError)
	assert.Contains(t, res.ToolCalls[0].Output, "tenant_name")
	assert.Equal(t, "tenant_name", draftTarget(sess.Draft(), "Tenant Name"))

	f.turn("tu_2", "update_mapping", map[string]any{"source_header": "rent amt", "canonical_field": "current_rent"}, "Done.")
	res, err = sess.Send(ctx, "map Rent Amt to current rent")
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, `"Rent Amt" -> current_rent`, res.ToolCalls[0].Output)

	f.turn("tu_3", "update_mapping", map[string]any{"source_header": "Pets", "canonical_field": "Pet Policy", "is_new_field": true}, "Added.")
	res, err = sess.Send(ctx, "map Pets to a new field")
	require.NoError(t, err)
	assert.Equal(t, `"Pets" -> pet_policy (new field)`, res.ToolCalls[0].Output)

	f.turn("tu_4", "confirm_mapping", map[string]any{}, "Waiting for your confirmation.")
	res, err = sess.Send(ctx, "looks good, confirm it")
	require.NoError(t, err)
	require.Len(t, res.Pending, 1)
	f.jobs.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything)

	f.jobs.On("Confirm", mock.Anything, mock.MatchedBy(func(c jobs.Confirmation) bool {
		want := map[string]mapping.ConfirmItem{
			"Rent Amt": {SourceHeader: "Rent Amt", CanonicalField: "current_rent"},
			"Pets":     {SourceHeader: "Pets", CanonicalField: "pet_policy", IsNewField: true},
		}
		for _, it := range c.Mappings {
			if w, ok := want[it.SourceHeader]; ok && w != it {
				return false
			}
		}
		return c.DocumentID == docID
	})).Return(&model.ExtractionJob{ID: "job-9", Status: model.JobQueued}, nil)

	tc, err := sess.ConfirmAction(ctx, res.Pending[0].ID, false)
	require.NoError(t, err)
	assert.Contains(t, tc.Output, "job-9")
	assert.Empty(t, sess.Pending())
	f.jobs.AssertExpectations(t)
}

func TestSession_UpdateMappingErrors(t *testing.T) {
	f := newFixture(t)
	f.expectPreview(t)
	ctx := context.Background()
	sess, err := f.svc.Session(docID)
	require.NoError(t, err)

	f.turn("tu_1", "update_mapping", map[string]any{"source_header": "Pets", "canonical_field": "pet_policy"}, "That field does not exist.")
	res, err := sess.Send(ctx, "map Pets to pet_policy")
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.True(t, res.ToolCalls[0].IsError)
	assert.Contains(t, res.ToolCalls[0].Output, "set is_new_field")

	f.turn("tu_2", "update_mapping", map[string]any{"source_header": "Nope", "canonical_field": "unit_number"}, "No such column.")
	res, err = sess.Send(ctx, "map Nope to unit")
	require.NoError(t, err)
	assert.True(t, res.ToolCalls[0].IsError)
	assert.Contains(t, res.ToolCalls[0].Output, `no column named "Nope"`)
}

func TestSession_UpdateMappingMovesField(t *testing.T) {
	f := newFixture(t)
	f.expectPreview(t)
	ctx := context.Background()
	sess, err := f.svc.Session(docID)
	require.NoError(t, err)

	f.turn("tu_1", "update_mapping", map[string]any{"source_header": "Pets", "canonical_field": "unit_number"}, "Moved.")
	res, err := sess.Send(ctx, "map Pets to unit number")
	require.NoError(t, err)
	assert.Contains(t, res.ToolCalls[0].Output, `"Unit" is now unmapped`)

	draft := sess.Draft()
	assert.Equal(t, "unit_number", draftTarget(draft, "Pets"))
	assert.Equal(t, "", draftTarget(draft, "Unit"))
}

func TestSession_RecordEditsCanBeApprovedForTheSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Session(docID)
	require.NoError(t, err)

	edit := map[string]any{"record_id": "rec-1", "field_path": "current_rent", "value": "1050", "correction_type": "value_wrong"}
	f.turn("tu_1", "update_record_field", edit, "Queued.")
	res, err := sess.Send(ctx, "fix the rent on unit 101")
	require.NoError(t, err)
	require.Len(t, res.Pending, 1)

	f.reviewer.On("Correct", mock.Anything, review.Edit{
		RecordID:  "rec-1",
		FieldPath: "current_rent",
		Value:     "1050",
		Type:      model.CorrectionValueWrong,
	}).Return(&model.Correction{ID: "c-1", RecordID: "rec-1", FieldPath: "current_rent"}, nil).Once()
	_, err = sess.ConfirmAction(ctx, res.Pending[0].ID, true)
	require.NoError(t, err)

	edit["value"] = "975"
	edit["record_id"] = "rec-2"
	f.reviewer.On("Correct", mock.Anything, mock.MatchedBy(func(e review.Edit) bool { return e.RecordID == "rec-2" })).
		Return(&model.Correction{ID: "c-2", RecordID: "rec-2", FieldPath: "current_rent"}, nil).Once()
	f.turn("tu_2", "update_record_field", edit, "Fixed.")
	res, err = sess.Send(ctx, "fix unit 102 too")
	require.NoError(t, err)
	assert.Empty(t, res.Pending)
	assert.Contains(t, res.ToolCalls[0].Output, "correction c-2")
	f.reviewer.AssertExpectations(t)
}

func TestSession_RecategorizeAlwaysAsks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Session(docID)
	require.NoError(t, err)

	in := map[string]any{"record_id": "li-1", "category": "Repairs"}
	f.turn("tu_1", "recategorize_line_item", in, "Queued.")
	res, err := sess.Send(ctx, "recategorize the roof line item")
	require.NoError(t, err)
	require.Len(t, res.Pending, 1)

	f.reviewer.On("Recategorize", mock.Anything, "li-1", "Repairs").Return(true, nil).Once()
	tc, err := sess.ConfirmAction(ctx, res.Pending[0].ID, true)
	require.NoError(t, err)
	assert.Equal(t, "Moved line item li-1 to Repairs.", tc.Output)

	f.turn("tu_2", "recategorize_line_item", in, "Queued again.")
	res, err = sess.Send(ctx, "recategorize it again")
	require.NoError(t, err)
	require.Len(t, res.Pending, 1)
	require.NoError(t, sess.RejectAction(res.Pending[0].ID))
	assert.Empty(t, sess.Pending())
}

func TestSession_ListRecordsPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Session(docID)
	require.NoError(t, err)

	recs := []model.ExtractedRecord{
		{ID: "r2", RowIndex: 2, Fields: map[string]model.FieldValue{"unit_number": {Value: "103", Confidence: 0.9}}},
		{ID: "r0", RowIndex: 0, Fields: map[string]model.FieldValue{"unit_number": {Value: "101", Confidence: 0.9}}},
		{ID: "r1", RowIndex: 1, Fields: map[string]model.FieldValue{"unit_number": {Value: "102", Confidence: 0}}},
	}
	f.records.On("ListRecords", mock.Anything, docID).Return(recs, nil)

	f.turn("tu_1", "list_extracted_records", map[string]any{"offset": 1, "limit": 1}, "Row 2 is unit 102.")
	res, err := sess.Send(ctx, "show the extracted records")
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.JSONEq(t,
		`{"total":3,"offset":1,"records":[{"id":"r1","row":1,"fields":{"unit_number":{"value":"102","confidence":0}}}]}`,
		res.ToolCalls[0].Output)
}

func TestService_SessionPerDocument(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.Session("a")
	require.NoError(t, err)
	again, err := f.svc.Session("a")
	require.NoError(t, err)
	b, err := f.svc.Session("b")
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.NotSame(t, a, b)

	f.svc.Close("a")
	fresh, err := f.svc.Session("a")
	require.NoError(t, err)
	assert.NotSame(t, a, fresh)

	_, err = f.svc.Session("")
	assert.Error(t, err)
}
