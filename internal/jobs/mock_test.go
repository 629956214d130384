package jobs

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/landscaper/internal/extract"
)

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, in extract.Input) (*extract.Result, error) {
	args := m.Called(ctx, in)
	if v := args.Get(0); v != nil {
		return v.(*extract.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockExtractor) Preview(ctx context.Context, in extract.Input, n int) (*extract.Preview, error) {
	args := m.Called(ctx, in, n)
	if v := args.Get(0); v != nil {
		return v.(*extract.Preview), args.Error(1)
	}
	return nil, args.Error(1)
}
