package qoe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func frame(serverRecvMs uint64, size uint64) FrameQoE {
	return FrameQoE{
		ServerSend:      0,
		ServerRecv:      serverRecvMs * 1_000_000,
		FrameIntervalUs: 16667,
		Size:            size,
	}
}

func TestScoreIncreasesWithBitrateAtFixedDelay(t *testing.T) {
	low := frame(80, 8738)
	high := frame(80, 17476)
	assert.Greater(t, high.Score(), low.Score())
}

func TestScoreDecreasesWithDelayAtFixedBitrate(t *testing.T) {
	fast := frame(80, 8738)
	slow := frame(96, 8738)
	assert.Greater(t, fast.Score(), slow.Score())
}

func TestDelayPunishIsZeroBelowIgnoreThreshold(t *testing.T) {
	f := frame(80, 8738)
	assert.Zero(t, f.DelayPunish())
}

func TestDelayPunishIsPositivePastThreshold(t *testing.T) {
	f := frame(96, 8738)
	assert.Greater(t, f.DelayPunish(), 0.0)
}

func TestTradeoffBuckets(t *testing.T) {
	assert.Equal(t, uint64(300), Tradeoff(4.9))
	assert.Equal(t, uint64(250), Tradeoff(5.5))
	assert.Equal(t, uint64(200), Tradeoff(6.2))
	assert.Equal(t, uint64(150), Tradeoff(7.0))
	assert.Equal(t, uint64(100), Tradeoff(7.8))
	assert.Equal(t, uint64(30), Tradeoff(9.0))
}

func TestSmootherWindowCapsAtFive(t *testing.T) {
	s := NewSmoother()
	for i := 0; i < 8; i++ {
		s.Update(frame(80, 8738))
	}
	assert.Len(t, s.window, 5)
}

func TestSmootherReportsChangedOnlyWhenTradeoffShifts(t *testing.T) {
	s := NewSmoother()
	_, changed := s.Update(frame(200, 100)) // poor sample: low bitrate, high delay
	assert.True(t, changed, "first update should move off the zero baseline")

	_, changed2 := s.Update(frame(200, 100))
	assert.False(t, changed2, "repeating the same sample should reach a stable tradeoff")
}
