package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimits_Exceeded(t *testing.T) {
	limits := Limits{MaxMemoryPercent: 70, MaxCPUPercent: 70}

	tests := []struct {
		name   string
		sample Sample
		want   bool
	}{
		{"idle", Sample{MemoryPercent: 20, CPUPercent: 10}, false},
		{"at ceiling", Sample{MemoryPercent: 70, CPUPercent: 70}, false},
		{"memory pressure", Sample{MemoryPercent: 85, CPUPercent: 10}, true},
		{"cpu pressure", Sample{MemoryPercent: 20, CPUPercent: 140}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, limits.Exceeded(tt.sample))
		})
	}
}

func TestLimits_ZeroDisables(t *testing.T) {
	assert.False(t, Limits{}.Exceeded(Sample{MemoryPercent: 99, CPUPercent: 400}))
	assert.True(t, Limits{MaxCPUPercent: 50}.Exceeded(Sample{MemoryPercent: 99, CPUPercent: 51}))
}

func TestSystemMonitor_Sample(t *testing.T) {
	m := NewSystemMonitor(Limits{MaxMemoryPercent: 100, MaxCPUPercent: 1e9})

	s, err := m.Sample(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.MemoryPercent, 0.0)
	assert.LessOrEqual(t, s.MemoryPercent, 100.0)
	assert.GreaterOrEqual(t, s.CPUPercent, 0.0)

	assert.False(t, m.ShouldThrottle(context.Background()))
}

func TestStatic(t *testing.T) {
	busy := Static{Reading: Sample{MemoryPercent: 90}, Limits: Limits{MaxMemoryPercent: 70}}
	assert.True(t, busy.ShouldThrottle(context.Background()))

	s, err := busy.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90.0, s.MemoryPercent)
}
