package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unionvote/internal/voting/verification/attempts"
	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
	"unionvote/pkg/requestcontext"
)

func TestLimiterLockoutExpires(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	l, err := NewLimiter(attempts.NewInMemoryStore(), WithLimiterConfig(LimiterConfig{
		MaxFailures: 2,
		Window:      time.Minute,
		Lockout:     5 * time.Minute,
	}))
	require.NoError(t, err)
	member := id.NewMemberID()

	locked, err := l.RecordFailure(ctx, member)
	require.NoError(t, err)
	assert.False(t, locked)
	require.NoError(t, l.Check(ctx, member))

	locked, err = l.RecordFailure(ctx, member)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.True(t, dErrors.HasCode(l.Check(ctx, member), dErrors.CodeRateLimited))

	later := requestcontext.WithTime(context.Background(), now.Add(6*time.Minute))
	assert.NoError(t, l.Check(later, member))
}

func TestLimiterRejectsBadConfig(t *testing.T) {
	_, err := NewLimiter(attempts.NewInMemoryStore(), WithLimiterConfig(LimiterConfig{}))
	assert.Error(t, err)
	_, err = NewLimiter(nil)
	assert.Error(t, err)
}
