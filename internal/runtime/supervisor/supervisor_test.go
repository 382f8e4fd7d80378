package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCancelsAndWaits(t *testing.T) {
	s := New(context.Background())
	stopped := make(chan struct{})
	s.Go0("loop", func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})
	assert.Equal(t, int64(1), s.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	<-stopped
	assert.Equal(t, int64(0), s.Active())
}

func TestFirstErrorIsKept(t *testing.T) {
	s := New(context.Background())
	first := errors.New("first")
	s.Go("a", func(context.Context) error { return first })
	require.ErrorIs(t, s.Wait(context.Background()), first)

	s2 := New(context.Background())
	s2.Go("b", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, s2.Stop(context.Background()), "cancellation is a clean stop")
}

func TestPanicIsRecovered(t *testing.T) {
	s := New(context.Background())
	s.Go0("boom", func(context.Context) { panic("kaboom") })
	err := s.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in boom: kaboom")
}

func TestWaitHonoursDeadline(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}
