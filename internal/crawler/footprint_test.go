package crawler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisitedSetAddIsSingleGate(t *testing.T) {
	v := NewVisitedSet()

	var wg sync.WaitGroup
	var inserted atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.Add("http://x.com/a") {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted.Load())
	assert.True(t, v.Contains("http://x.com/a"))
	assert.False(t, v.Contains("http://x.com/b"))
	assert.Equal(t, 1, v.Len())
}

func TestURLSetDedupesByKey(t *testing.T) {
	s := NewURLSet(4)
	s.AddAll([]string{"http://www.x.com/a", "http://x.com/a", "http://x.com/a#frag", "http://x.com/b"})
	assert.Equal(t, []string{"http://www.x.com/a", "http://x.com/b"}, s.Slice())
	assert.Equal(t, 2, s.Len())
}

func TestDomainLimiterDisabled(t *testing.T) {
	assert.Nil(t, NewDomainLimiter(0, RateLimiterSettings{}))
	var d *DomainLimiter
	assert.NoError(t, d.WaitURL(context.Background(), "http://x.com/"))
}

func TestDomainLimiterDelaySharedAcrossWWW(t *testing.T) {
	d := NewDomainLimiter(40*time.Millisecond, RateLimiterSettings{})
	require.NotNil(t, d)

	start := time.Now()
	require.NoError(t, d.WaitURL(context.Background(), "http://x.com/a"))
	require.NoError(t, d.WaitURL(context.Background(), "http://www.x.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	start = time.Now()
	require.NoError(t, d.WaitURL(context.Background(), "http://other.org/"))
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}

func TestDomainLimiterHonoursContext(t *testing.T) {
	d := NewDomainLimiter(time.Hour, RateLimiterSettings{})
	require.NoError(t, d.Wait(context.Background(), "x.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx, "x.com"), context.DeadlineExceeded)
}

func TestRunBoundedLimitsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	err := runBounded(context.Background(), 20, 3, func(ctx context.Context, i int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunBoundedConvertsPanics(t *testing.T) {
	err := runBounded(context.Background(), 2, 1, func(ctx context.Context, i int) error {
		if i == 1 {
			panic("boom")
		}
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLevelFailure))
}
