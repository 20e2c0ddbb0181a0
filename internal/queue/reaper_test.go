package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReaperRequeuesExpiredLeases(t *testing.T) {
	ctx := context.Background()
	q, c := newTestQueue()
	_, err := q.Enqueue(ctx, jobsFor("c1", 2)...)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	r := NewReaper(q, 0, zap.NewNop().Sugar())
	assert.Equal(t, 0, r.ReapOnce(ctx))

	c.Advance(time.Minute)
	assert.Equal(t, 1, r.ReapOnce(ctx))
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	q, _ := newTestQueue()
	r := NewReaper(q, time.Millisecond, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
