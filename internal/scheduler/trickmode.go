package scheduler

import "time"

// TrickmodeState holds the running values the target-time computation
// needs across fragments when serving keyframes only.
type TrickmodeState struct {
	CurRT            time.Duration // running time of the last emitted keyframe
	AvgDownload      time.Duration // EMA of keyframe-fetch duration
	LastKeyframeDist time.Duration
	AverageSkipSize  time.Duration // EMA, kept stable across fragments
	seeded           bool
}

// trickmodeEMAWeight mirrors isobmff's running 3/4-weighted EMA, applied
// here to the scheduler's own keyframe-fetch-duration and skip-size
// statistics, keeping the step stable across fragments.
const trickmodeEMAWeight = 0.25

func trickEMA(prev, sample time.Duration, seeded bool) time.Duration {
	if !seeded {
		return sample
	}
	return prev + time.Duration(trickmodeEMAWeight*float64(sample-prev))
}

// ObserveKeyframeFetch folds one keyframe download's wall-clock duration
// into the running EMA.
func (s *TrickmodeState) ObserveKeyframeFetch(d time.Duration) {
	s.AvgDownload = trickEMA(s.AvgDownload, d, s.seeded)
	s.seeded = true
}

// ObserveSkip folds one chosen skip size into the running EMA.
func (s *TrickmodeState) ObserveSkip(skip time.Duration) {
	s.AverageSkipSize = trickEMA(s.AverageSkipSize, skip, s.seeded)
}

// TrickCaps bounds the trick-mode step by the configured framerate and
// bitrate ceilings.
type TrickCaps struct {
	MaxFramerate    float64 // 0 = unbounded
	MaxBitrate      int64   // bits/s, 0 = unbounded
	KeyframeAvgSize float64 // bytes, from isobmff.SyncSampleTable
}

// ComputeTargetTime picks the next keyframe timestamp to request in
// trick-mode playback, keeping the client just ahead of the sink.
//
//	buffer_level < 500ms or < 3*avg_dl  -> max(cur_rt, now_rt + 3*avg_dl)
//	buffer_level < 4*avg_dl             -> cur_rt + min(1s, 2*avg_dl)
//	otherwise                           -> cur_rt + avg_dl
//
// direction is +1 for forward trick-mode, -1 for reverse (the computed
// step is then subtracted from cur_rt here, so the result lies behind it).
func ComputeTargetTime(state TrickmodeState, nowRT time.Duration, caps TrickCaps, direction int) time.Duration {
	minSkip := state.LastKeyframeDist
	if state.AverageSkipSize > minSkip {
		minSkip = state.AverageSkipSize
	}

	bufferLevel := state.CurRT - nowRT

	var step time.Duration
	switch {
	case bufferLevel < 500*time.Millisecond || bufferLevel < 3*state.AvgDownload:
		target := nowRT + 3*state.AvgDownload
		if state.CurRT > target {
			target = state.CurRT
		}
		step = target - state.CurRT
	case bufferLevel < 4*state.AvgDownload:
		step = 2 * state.AvgDownload
		if step > time.Second {
			step = time.Second
		}
	default:
		step = state.AvgDownload
	}

	if step < minSkip {
		step = minSkip
	}

	target := applyStep(state.CurRT, step, direction)
	return clampStep(state.CurRT, target, caps, direction)
}

func applyStep(cur, step time.Duration, direction int) time.Duration {
	if direction < 0 {
		return cur - step
	}
	return cur + step
}

// clampStep enforces the max_framerate floor (never pick keyframes
// closer than 1/fps apart) and widens the step if the current keyframe
// rate would exceed max_bitrate.
func clampStep(cur, target time.Duration, caps TrickCaps, direction int) time.Duration {
	step := target - cur
	if step < 0 {
		step = -step
	}

	if caps.MaxFramerate > 0 {
		minInterval := time.Duration(float64(time.Second) / caps.MaxFramerate)
		if step < minInterval {
			step = minInterval
		}
	}

	if caps.MaxBitrate > 0 && caps.KeyframeAvgSize > 0 && step > 0 {
		impliedFPS := float64(time.Second) / float64(step)
		impliedBitrate := caps.KeyframeAvgSize * 8 * impliedFPS
		if impliedBitrate > float64(caps.MaxBitrate) {
			// Widen the step (lower the effective keyframe rate) until the
			// implied bitrate falls within the cap.
			minInterval := time.Duration(caps.KeyframeAvgSize * 8 * float64(time.Second) / float64(caps.MaxBitrate))
			if step < minInterval {
				step = minInterval
			}
		}
	}

	return applyStep(cur, step, direction)
}
