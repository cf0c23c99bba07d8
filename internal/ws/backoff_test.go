package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Next(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		attempt int
		want    time.Duration
		wantOK  bool
	}{
		{
			name:    "first attempt uses initial delay",
			backoff: Backoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2},
			attempt: 0,
			want:    time.Second,
			wantOK:  true,
		},
		{
			name:    "grows exponentially",
			backoff: Backoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2},
			attempt: 3,
			want:    8 * time.Second,
			wantOK:  true,
		},
		{
			name:    "capped at max",
			backoff: Backoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2},
			attempt: 10,
			want:    30 * time.Second,
			wantOK:  true,
		},
		{
			name:    "multiplier below one keeps delay flat",
			backoff: Backoff{Initial: 100 * time.Millisecond, Multiplier: 0.5},
			attempt: 4,
			want:    100 * time.Millisecond,
			wantOK:  true,
		},
		{
			name:    "attempts exhausted",
			backoff: Backoff{Initial: time.Second, Multiplier: 2, MaxAttempts: 3},
			attempt: 3,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.backoff.Next(tt.attempt)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 100; i++ {
		got, ok := b.Next(1)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, got, 1600*time.Millisecond)
		assert.LessOrEqual(t, got, 2400*time.Millisecond)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "live", Live.String())
	assert.Equal(t, "state(9)", State(9).String())
	assert.True(t, Joining.Active())
	assert.False(t, Closed.Active())
}
