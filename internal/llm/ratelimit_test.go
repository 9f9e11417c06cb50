package llm

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRateLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestCheckAndIncrementUnderLimit(t *testing.T) {
	r := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, r.CheckAndIncrement(ctx, 100))
	}
}

func TestCheckAndIncrementThrottlesAtThreshold(t *testing.T) {
	r := newTestLimiter(t)
	r.rpmLimit = 10
	ctx := context.Background()

	var err error
	for i := 0; i < 10; i++ {
		err = r.CheckAndIncrement(ctx, 1)
		if err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RPM")
	assert.Contains(t, err.Error(), "wait")
}

func TestTokenBudgetThrottles(t *testing.T) {
	r := newTestLimiter(t)
	r.tpmLimit = 1000
	ctx := context.Background()

	err := r.CheckAndIncrement(ctx, 950)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TPM")
}

func TestExtractWaitTime(t *testing.T) {
	assert.Equal(t, 45, extractWaitTime("approaching RPM limit (9/10), wait 45s"))
	assert.Equal(t, 60, extractWaitTime("sin tiempo"))
}
