package qoe

import (
	"math"

	"github.com/mortise-project/mortise-manager/pkg/protocol"
)

// FrameQoE is the wire type a client reports one sample as; aliased here
// so the scoring formulas can be defined as its methods without an
// import cycle (protocol must not depend on qoe).
type FrameQoE = protocol.FrameQoE

// Constants from the original scoring model (mortise-common/src/qoe.rs).
// They encode a particular SSIM/bitrate curve fit and delay tolerance
// profile; changing them changes what "good" playback means, not just
// an implementation detail, so they are kept exactly as handed down.
const (
	baseSSIM             = 14.4
	midSSIM              = 18.0 - baseSSIM
	highSSIM             = 19.7 - baseSSIM
	delayIgnoreThreshold = 80.0
	delayDDL             = 120.0
	delayLimit           = 150.0
)

// BitrateKbps derives the encoded bitrate from a frame's payload size and
// the interval since the previous frame.
func (f FrameQoE) BitrateKbps() float64 {
	intervalSecs := float64(f.FrameIntervalUs) / 1_000_000.0
	return float64(f.Size) / intervalSecs * 8.0 / 1024.0
}

// SSIM approximates perceptual quality from bitrate alone, clamped at 0.
func (f FrameQoE) SSIM() float64 {
	ssim := 5.0*math.Log10(f.BitrateKbps()/20.0) + 6.0 - baseSSIM
	if ssim < 0.0 {
		return 0.0
	}
	return ssim
}

// DelayMs is the server-to-server processing delay in milliseconds. The
// wire fields are nanoseconds, unlike protocol.FrameQoE's microsecond
// FrameIntervalUs — this mirrors the asymmetry in the original struct.
func (f FrameQoE) DelayMs() float64 {
	return float64(f.ServerRecv-f.ServerSend) / 1_000_000.0
}

// SSIMReward is a piecewise-linear reward curve over SSIM: steepest up to
// midSSIM (slope 3.1), half as steep up to highSSIM (1.55), and flatter
// again above it (0.75).
func (f FrameQoE) SSIMReward() float64 {
	ssim := f.SSIM()
	switch {
	case ssim <= midSSIM:
		return 3.1 * ssim
	case ssim <= highSSIM:
		return 1.55*(ssim-midSSIM) + 3.1*midSSIM
	default:
		return 0.75*(ssim-highSSIM) + 1.55*(highSSIM-midSSIM) + 3.1*midSSIM
	}
}

// DelayPunish is a piecewise penalty over DelayMs (capped at delayLimit):
// zero below delayIgnoreThreshold, linear up to delayDDL, quadratic past
// it to punish missed deadlines disproportionately.
func (f FrameQoE) DelayPunish() float64 {
	delay := math.Min(f.DelayMs(), delayLimit)
	switch {
	case delay <= delayIgnoreThreshold:
		return 0.0
	case delay < delayDDL:
		return 0.04 * (delay - delayIgnoreThreshold)
	default:
		d := delay - delayDDL + 1.0
		return 0.002*d*d + 0.04*(delayDDL-delayIgnoreThreshold)
	}
}

// Score combines SSIMReward and DelayPunish into the single scalar the
// tradeoff bucketing and smoothing operate on.
func (f FrameQoE) Score() float64 {
	return -f.DelayPunish() + f.SSIMReward() - 9.2
}

// Tradeoff buckets a raw score into one of six discrete tradeoff levels
// a struct_ops program can act on directly, fitting a u64 map value. The
// bucket boundaries are empirically tuned, not derived.
func Tradeoff(score float64) uint64 {
	switch {
	case score < 5.0:
		return 300
	case score < 6.0:
		return 250
	case score < 6.5:
		return 200
	case score < 7.5:
		return 150
	case score < 8.0:
		return 100
	default:
		return 30
	}
}
