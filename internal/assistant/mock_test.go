package assistant

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/landscaper/internal/extract"
	"github.com/sells-group/landscaper/internal/jobs"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/review"
	"github.com/sells-group/landscaper/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*anthropic.MessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Preview(ctx context.Context, documentID string) (*model.Document, *model.Schema, *extract.Preview, error) {
	args := m.Called(ctx, documentID)
	if v := args.Get(0); v != nil {
		return v.(*model.Document), args.Get(1).(*model.Schema), args.Get(2).(*extract.Preview), args.Error(3)
	}
	return nil, nil, nil, args.Error(3)
}

func (m *mockJobs) Confirm(ctx context.Context, c jobs.Confirmation) (*model.ExtractionJob, error) {
	args := m.Called(ctx, c)
	if v := args.Get(0); v != nil {
		return v.(*model.ExtractionJob), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockReviewer struct {
	mock.Mock
}

func (m *mockReviewer) Correct(ctx context.Context, e review.Edit) (*model.Correction, error) {
	args := m.Called(ctx, e)
	if v := args.Get(0); v != nil {
		return v.(*model.Correction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReviewer) Recategorize(ctx context.Context, recordID, category string) (bool, error) {
	args := m.Called(ctx, recordID, category)
	return args.Bool(0), args.Error(1)
}

type mockRecords struct {
	mock.Mock
}

func (m *mockRecords) ListRecords(ctx context.Context, documentID string) ([]model.ExtractedRecord, error) {
	args := m.Called(ctx, documentID)
	if v := args.Get(0); v != nil {
		return v.([]model.ExtractedRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		StopReason: anthropic.StopEndTurn,
		Content:    []anthropic.ContentBlock{anthropic.TextBlock(text)},
	}
}

func toolResponse(id, name string, input any) *anthropic.MessageResponse {
	raw, _ := json.Marshal(input)
	return &anthropic.MessageResponse{
		StopReason: anthropic.StopToolUse,
		Content:    []anthropic.ContentBlock{{Type: anthropic.BlockToolUse, ID: id, Name: name, Input: raw}},
	}
}
