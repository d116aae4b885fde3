package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidenceCapped(t *testing.T) {
	// Даже идеальный win rate на огромной выборке не даёт полной уверенности
	assert.Equal(t, ConfidenceCap, Confidence(1.0, 1000))
}

func TestConfidenceFullSample(t *testing.T) {
	// На полной выборке неопределённость нулевая: confidence == winRate
	assert.InDelta(t, 0.7, Confidence(0.7, 50), 1e-9)
	assert.InDelta(t, 0.7, Confidence(0.7, 60), 1e-9)
}

func TestConfidenceSmallSamplePulledToHalf(t *testing.T) {
	// 10 сделок: неопределённость 0.4, оценка тянется к 0.5
	assert.InDelta(t, 0.62, Confidence(0.7, 10), 1e-9)

	// Совсем малая выборка: почти вся масса на неопределённости
	small := Confidence(0.9, 1)
	assert.Less(t, small, 0.6)
	assert.Greater(t, small, 0.5)
}

func TestConfidenceMonotonicInSampleSize(t *testing.T) {
	prev := 0.0
	for _, n := range []int{1, 5, 10, 25, 50, 100} {
		c := Confidence(0.8, n)
		assert.GreaterOrEqual(t, c, prev, "sample size %d", n)
		prev = c
	}
}

func TestRecompute(t *testing.T) {
	p := &Pattern{WinRate: 0.7, SampleSize: 50}
	p.Recompute()
	assert.InDelta(t, 0.7, p.Confidence, 1e-9)

	p.SampleSize = 10
	p.Recompute()
	assert.InDelta(t, 0.62, p.Confidence, 1e-9)
}
