package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/internal/resilience"
	"github.com/sells-group/landscaper/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func fastRetry(n int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    n,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
}

func TestCaller_FillsDefaultsAndAccumulatesUsage(t *testing.T) {
	mc := &mockClient{}
	resp := &anthropic.MessageResponse{
		StopReason: anthropic.StopEndTurn,
		Usage:      anthropic.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == "claude-test" && r.MaxTokens == 512
	})).Return(resp, nil).Twice()

	c := NewCaller(mc, "claude-test", 512, WithRetry(fastRetry(3)))
	for range 2 {
		_, err := c.CreateMessage(context.Background(), anthropic.MessageRequest{})
		require.NoError(t, err)
	}

	assert.Equal(t, int64(20), c.Usage().InputTokens)
	assert.Equal(t, int64(2), c.Calls())
	mc.AssertExpectations(t)
}

func TestCaller_RetriesTransientThenSucceeds(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Once()
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(&anthropic.MessageResponse{StopReason: anthropic.StopEndTurn}, nil).Once()

	c := NewCaller(mc, "m", 1, WithRetry(fastRetry(3)))
	resp, err := c.CreateMessage(context.Background(), anthropic.MessageRequest{})
	require.NoError(t, err)
	assert.Equal(t, anthropic.StopEndTurn, resp.StopReason)
	assert.Equal(t, int64(2), c.Calls())
}

func TestCaller_ExhaustedBecomesProviderError(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("rate limited"), 429))

	c := NewCaller(mc, "m", 1, WithRetry(fastRetry(3)))
	_, err := c.CreateMessage(context.Background(), anthropic.MessageRequest{})

	var pe *model.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	assert.True(t, resilience.IsTransient(pe.Err))
	mc.AssertNumberOfCalls(t, "CreateMessage", 3)
}

func TestCaller_NonTransientNotRetried(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("invalid request"))

	c := NewCaller(mc, "m", 1, WithRetry(fastRetry(3)))
	_, err := c.CreateMessage(context.Background(), anthropic.MessageRequest{})

	var pe *model.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Attempts)
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestCaller_CancelledContextNotWrapped(t *testing.T) {
	mc := &mockClient{}
	ctx, cancel := context.WithCancel(context.Background())
	mc.On("CreateMessage", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		cancel()
	}).Return(nil, context.Canceled)

	c := NewCaller(mc, "m", 1, WithRetry(fastRetry(3)))
	_, err := c.CreateMessage(ctx, anthropic.MessageRequest{})
	assert.ErrorIs(t, err, context.Canceled)

	var pe *model.ProviderError
	assert.False(t, errors.As(err, &pe))
}

func TestCaller_OpenBreakerFailsFast(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	cb := resilience.NewBreaker("anthropic", resilience.BreakerConfig{
		Threshold: 1,
		Cooldown:  time.Hour,
	})
	c := NewCaller(mc, "m", 1, WithRetry(fastRetry(1)), WithBreaker(cb))

	_, err := c.CreateMessage(context.Background(), anthropic.MessageRequest{})
	require.Error(t, err)
	_, err = c.CreateMessage(context.Background(), anthropic.MessageRequest{})

	var pe *model.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, pe.Err, resilience.ErrCircuitOpen)
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}
