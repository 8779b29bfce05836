package asyncutil_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/lnbank/asyncutil"
)

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after failures", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := asyncutil.Retry(5, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns the last error", func(t *testing.T) {
		t.Parallel()

		lastErr := errors.New("still broken")
		calls := 0
		err := asyncutil.Retry(3, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return errors.New("earlier failure")
			}
			return lastErr
		})

		assert.Equal(t, lastErr, err)
		assert.Equal(t, 3, calls)
	})
}

func TestAwait(t *testing.T) {
	t.Parallel()

	t.Run("returns nil once the condition holds", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := asyncutil.Await(5, time.Millisecond, func() bool {
			calls++
			return calls == 2
		})

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("failure message includes context", func(t *testing.T) {
		t.Parallel()

		err := asyncutil.Await(2, time.Millisecond,
			func() bool { return false },
			"waiting for", "lnd")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 attempts")
		assert.Contains(t, err.Error(), "waiting for lnd")
	})
}

func TestTotalRetryDuration(t *testing.T) {
	t.Parallel()

	// sleeps happen between attempts, doubling each time: 1 + 2 + 4
	assert.Equal(t, 7*time.Millisecond,
		asyncutil.TotalRetryDuration(4, time.Millisecond))
	assert.Equal(t, time.Duration(0),
		asyncutil.TotalRetryDuration(1, time.Millisecond))
}
