package brightdata

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient implements Client for testing the poll loop.
type mockClient struct {
	progressFunc func(ctx context.Context, id string) (*ProgressResponse, error)
}

func (m *mockClient) Trigger(context.Context, string, []TriggerInput) (*TriggerResponse, error) {
	return nil, nil
}

func (m *mockClient) Progress(ctx context.Context, id string) (*ProgressResponse, error) {
	return m.progressFunc(ctx, id)
}

func (m *mockClient) Download(context.Context, string) ([]Record, error) {
	return nil, nil
}

// fakeClock advances a synthetic wall clock on every sleep, so the 45s
// ceiling can be exercised instantly.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	f.now = f.now.Add(d)
	return nil
}

func TestPollSnapshot_ReadyImmediately(t *testing.T) {
	mock := &mockClient{
		progressFunc: func(ctx context.Context, id string) (*ProgressResponse, error) {
			return &ProgressResponse{Status: StatusReady}, nil
		},
	}

	clk := &fakeClock{now: time.Unix(0, 0)}
	err := PollSnapshot(context.Background(), mock, "snap-1", WithClock(clk.Now, clk.Sleep))
	require.NoError(t, err)
}

func TestPollSnapshot_ReadyAfterRetries(t *testing.T) {
	var calls atomic.Int32
	mock := &mockClient{
		progressFunc: func(ctx context.Context, id string) (*ProgressResponse, error) {
			if calls.Add(1) < 4 {
				return &ProgressResponse{Status: StatusRunning}, nil
			}
			return &ProgressResponse{Status: StatusReady}, nil
		},
	}

	clk := &fakeClock{now: time.Unix(0, 0)}
	err := PollSnapshot(context.Background(), mock, "snap-2", WithClock(clk.Now, clk.Sleep))
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 9*time.Second, clk.now.Sub(time.Unix(0, 0)), "three 3s sleeps")
}

func TestPollSnapshot_CeilingReached(t *testing.T) {
	var calls atomic.Int32
	mock := &mockClient{
		progressFunc: func(ctx context.Context, id string) (*ProgressResponse, error) {
			calls.Add(1)
			return &ProgressResponse{Status: StatusRunning}, nil
		},
	}

	clk := &fakeClock{now: time.Unix(0, 0)}
	err := PollSnapshot(context.Background(), mock, "snap-3", WithClock(clk.Now, clk.Sleep))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollTimeout)
	// 45s ceiling at a 3s interval allows 15 polls.
	assert.Equal(t, int32(15), calls.Load())
}

func TestPollSnapshot_JobFailed(t *testing.T) {
	mock := &mockClient{
		progressFunc: func(ctx context.Context, id string) (*ProgressResponse, error) {
			return &ProgressResponse{Status: StatusFailed}, nil
		},
	}

	clk := &fakeClock{now: time.Unix(0, 0)}
	err := PollSnapshot(context.Background(), mock, "snap-4", WithClock(clk.Now, clk.Sleep))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}
