package toolloop

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

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
		Content: []anthropic.ContentBlock{
			anthropic.TextBlock("Let me check."),
			{Type: anthropic.BlockToolUse, ID: id, Name: name, Input: raw},
		},
	}
}

func withTools(r anthropic.MessageRequest) bool    { return len(r.Tools) > 0 }
func withoutTools(r anthropic.MessageRequest) bool { return len(r.Tools) == 0 }
