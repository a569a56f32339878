package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_DefaultSequence(t *testing.T) {
	b := NewBackoff(DefaultBackoffConfig())

	want := []int64{250, 425, 722, 1227, 2085, 3544, 6024, 10000, 10000, 10000}
	for i, ms := range want {
		delay, ok := b.Next()
		require.True(t, ok, "attempt %d", i)
		assert.Equal(t, time.Duration(ms)*time.Millisecond, delay, "attempt %d", i)
	}
	assert.Equal(t, len(want), b.Attempts())
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(DefaultBackoffConfig())
	for i := 0; i < 5; i++ {
		b.Next()
	}
	assert.Equal(t, 3544*time.Millisecond, b.Peek())

	b.Reset()

	delay, ok := b.Next()
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, delay)
	assert.Equal(t, 1, b.Attempts())
}

func TestBackoff_MaxRetries(t *testing.T) {
	cfg := DefaultBackoffConfig()
	cfg.MaxRetries = 2
	b := NewBackoff(cfg)

	_, ok := b.Next()
	assert.True(t, ok)
	_, ok = b.Next()
	assert.True(t, ok)
	_, ok = b.Next()
	assert.False(t, ok)

	b.Reset()
	_, ok = b.Next()
	assert.True(t, ok)
}

func TestBackoff_ConfigDefaults(t *testing.T) {
	tests := []struct {
		name string
		cfg  BackoffConfig
		want []time.Duration
	}{
		{
			name: "zero config uses defaults",
			cfg:  BackoffConfig{},
			want: []time.Duration{250 * time.Millisecond, 425 * time.Millisecond},
		},
		{
			name: "custom schedule",
			cfg:  BackoffConfig{InitialInterval: 100 * time.Millisecond, MaxInterval: 300 * time.Millisecond, Multiplier: 2},
			want: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond},
		},
		{
			name: "max below initial is raised",
			cfg:  BackoffConfig{InitialInterval: time.Second, MaxInterval: time.Millisecond, Multiplier: 2},
			want: []time.Duration{time.Second, time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(tt.cfg)
			for i, want := range tt.want {
				got, ok := b.Next()
				require.True(t, ok)
				assert.Equal(t, want, got, "attempt %d", i)
			}
		})
	}
}
