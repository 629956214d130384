package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/landscaper/internal/ingest"
	"github.com/sells-group/landscaper/internal/jobs"
	"github.com/sells-group/landscaper/internal/mapping"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/review"
	"github.com/sells-group/landscaper/internal/toolloop"
)

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) Ingest(ctx context.Context, up ingest.Upload) (*ingest.Result, error) {
	args := m.Called(ctx, up)
	if v := args.Get(0); v != nil {
		return v.(*ingest.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Propose(ctx context.Context, documentID string) (*mapping.Proposal, error) {
	args := m.Called(ctx, documentID)
	if v := args.Get(0); v != nil {
		return v.(*mapping.Proposal), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockJobs) Confirm(ctx context.Context, c jobs.Confirmation) (*model.ExtractionJob, error) {
	args := m.Called(ctx, c)
	if v := args.Get(0); v != nil {
		return v.(*model.ExtractionJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockJobs) Status(ctx context.Context, jobID string) (model.JobStatusView, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(model.JobStatusView), args.Error(1)
}

func (m *mockJobs) Cancel(ctx context.Context, jobID string) (*model.ExtractionJob, error) {
	args := m.Called(ctx, jobID)
	if v := args.Get(0); v != nil {
		return v.(*model.ExtractionJob), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockReviewer struct {
	mock.Mock
}

func (m *mockReviewer) Open(ctx context.Context, documentID string) (*model.Document, error) {
	args := m.Called(ctx, documentID)
	if v := args.Get(0); v != nil {
		return v.(*model.Document), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReviewer) Approve(ctx context.Context, documentID string) error {
	return m.Called(ctx, documentID).Error(0)
}

func (m *mockReviewer) Commit(ctx context.Context, documentID string) (*review.Summary, error) {
	args := m.Called(ctx, documentID)
	if v := args.Get(0); v != nil {
		return v.(*review.Summary), args.Error(1)
	}
	return nil, args.Error(1)
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

type mockAnalytics struct {
	mock.Mock
}

func (m *mockAnalytics) AccuracyTrend(ctx context.Context, days int) (*model.AccuracyTrend, error) {
	args := m.Called(ctx, days)
	if v := args.Get(0); v != nil {
		return v.(*model.AccuracyTrend), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAssistant struct {
	mock.Mock
}

func (m *mockAssistant) Send(ctx context.Context, documentID, text string) (*toolloop.Result, error) {
	args := m.Called(ctx, documentID, text)
	if v := args.Get(0); v != nil {
		return v.(*toolloop.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAssistant) ConfirmAction(ctx context.Context, documentID, pendingID string, always bool) (toolloop.ToolCall, error) {
	args := m.Called(ctx, documentID, pendingID, always)
	return args.Get(0).(toolloop.ToolCall), args.Error(1)
}

func (m *mockAssistant) RejectAction(documentID, pendingID string) error {
	return m.Called(documentID, pendingID).Error(0)
}

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
