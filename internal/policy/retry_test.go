package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), DefaultRetryConfig(), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestRetryRetriesRecoverableErrors(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3}, func(ctx context.Context) (int, error) {
		calls++
		return 0, xerr.New(xerr.Unavailable, "down")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsImmediatelyOnNonRecoverable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3}, func(ctx context.Context) (int, error) {
		calls++
		return 0, xerr.New(xerr.InvalidArgument, "bad")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPropagatesUnclassifiedErrorOnce(t *testing.T) {
	calls := 0
	sentinel := errors.New("boom")
	_, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3}, func(ctx context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}
