package corrections

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/landscaper/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) InsertCorrection(ctx context.Context, c *model.Correction) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockStore) ListCorrections(ctx context.Context, since time.Time) ([]model.Correction, error) {
	args := m.Called(ctx, since)
	if v := args.Get(0); v != nil {
		return v.([]model.Correction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) CountExtractions(ctx context.Context, since time.Time) ([]model.ExtractionCount, error) {
	args := m.Called(ctx, since)
	if v := args.Get(0); v != nil {
		return v.([]model.ExtractionCount), args.Error(1)
	}
	return nil, args.Error(1)
}
