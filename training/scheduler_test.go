package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineAnnealing(t *testing.T) {
	s := NewCosineAnnealingLRScheduler(10, 0)
	tests := []struct {
		epoch int
		want  float64
	}{
		{0, 0.1},
		{5, 0.05},
		{10, 0},
		{15, 0.05},
		{20, 0.1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, s.GetLR(tt.epoch, 0.1), 1e-12, "epoch %d", tt.epoch)
	}

	s = NewCosineAnnealingLRScheduler(4, 0.01)
	want := 0.01 + (0.1-0.01)*(1+math.Cos(math.Pi/4))/2
	assert.InDelta(t, want, s.GetLR(1, 0.1), 1e-12)
	assert.Equal(t, "CosineAnnealingLR", s.GetName())
}

func TestCosineAnnealingDefaults(t *testing.T) {
	s := NewCosineAnnealingLRScheduler(0, -1)
	assert.Equal(t, 100, s.TMax)
	assert.Equal(t, 0.0, s.EtaMin)
}

func TestConstantLR(t *testing.T) {
	s := &ConstantLRScheduler{}
	assert.Equal(t, 0.3, s.GetLR(17, 0.3))
	assert.Equal(t, "ConstantLR", s.GetName())
}
