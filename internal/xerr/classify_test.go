package xerr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassifyTransportCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		wantKind    Kind
		recoverable bool
	}{
		{codes.Unavailable, Unavailable, true},
		{codes.DeadlineExceeded, DeadlineExceeded, true},
		{codes.Aborted, Aborted, true},
		{codes.NotFound, NotFound, false},
		{codes.InvalidArgument, InvalidArgument, false},
		{codes.Unauthenticated, Unauthenticated, false},
	}

	for _, c := range cases {
		err := status.Error(c.code, "boom")
		got := Classify(err)
		require.NotNil(t, got)
		assert.Equal(t, c.wantKind, got.Kind)
		assert.Equal(t, c.recoverable, got.Recoverable)
		assert.ErrorIs(t, got, err) // cause is preserved in the chain
	}
}

func TestClassifyMessageTable(t *testing.T) {
	err := status.Error(codes.FailedPrecondition, "etcdserver: requested lease not found")
	got := Classify(err)
	assert.Equal(t, LeaseInvalid, got.Kind)
	assert.False(t, got.Recoverable)
}

func TestClassifyNonStatusError(t *testing.T) {
	got := Classify(context.DeadlineExceeded)
	assert.Equal(t, Unknown, got.Kind)
}

func TestClassifyIdempotent(t *testing.T) {
	first := Classify(status.Error(codes.Unavailable, "down"))
	second := Classify(first)
	assert.Same(t, first, second)
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(New(Unavailable, "x")))
	assert.False(t, IsRecoverable(New(NotFound, "x")))
	assert.False(t, IsRecoverable(nil))
}
