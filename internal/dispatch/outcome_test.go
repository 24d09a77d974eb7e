package dispatch

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

func TestGo_Success(t *testing.T) {
	o := Go(context.Background(), func(ctx context.Context) (uint64, error) {
		return 21000, nil
	})

	value, err := o.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), value)
}

func TestGo_FailurePassesErrorThrough(t *testing.T) {
	handlerErr := errors.New("execution reverted")
	o := Go(context.Background(), func(ctx context.Context) (string, error) {
		return "ignored", handlerErr
	})

	value, err := o.Wait(context.Background())
	assert.Same(t, handlerErr, err)
	assert.Empty(t, value) // 失败时不同时携带成功值
}

func TestGo_PanicResolvesWithError(t *testing.T) {
	o := Go(context.Background(), func(ctx context.Context) (int, error) {
		panic("boom")
	})

	_, err := o.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestOutcome_ResolvesExactlyOnce(t *testing.T) {
	o := newOutcome[int]()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if o.resolve(i, nil) {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	require.True(t, o.Ready())
	first, err := o.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, o.resolve(-1, errors.New("late")))
	again, err := o.Wait(context.Background())
	assert.Equal(t, first, again)
	assert.NoError(t, err)
}

func TestOutcome_WaitRespectsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := o.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.False(t, o.Ready())
}

func TestResolvedAndThen(t *testing.T) {
	o := Resolved("0xabc", nil)
	<-o.Done()

	got := make(chan string, 1)
	o.Then(func(v string, err error) {
		assert.NoError(t, err)
		got <- v
	})

	select {
	case v := <-got:
		assert.Equal(t, "0xabc", v)
	case <-time.After(time.Second):
		t.Fatal("回调未执行")
	}
}
