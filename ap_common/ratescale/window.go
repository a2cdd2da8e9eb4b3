/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package ratescale

// Success ratios are fixed point with a scale of 128, so comparisons against
// percentage thresholds stay integral.
const (
	srScale = 128

	// Ratio thresholds used by the scaling policy.
	srForceDownscale = 15 * srScale / 100 // 19
	srNoDownscale    = 85 * srScale / 100 // 108

	// An average throughput is only meaningful once the window holds a
	// minimum number of successes, or enough failures to show the rate
	// genuinely isn't working.
	minSuccessSamples = 8
	minFailureSamples = 3

	// Window capacities.  Legacy rates see far less traffic per
	// notification, so their windows are shorter.
	maxWindow       = 256
	maxWindowLegacy = 64

	// invalidStat marks an unknown success ratio or throughput.  Every
	// consumer must tolerate it.
	invalidStat = -1
)

// windowStat is a capped sliding window over acknowledgment statistics for a
// single rate (or a single TPC step).
type windowStat struct {
	frames  int // total frames in the window
	success int // acked frames in the window

	successRatio int // [0,srScale], or invalidStat while frames == 0
	averageTpt   int // 100kbps units, or invalidStat
}

func (w *windowStat) reset() {
	w.frames = 0
	w.success = 0
	w.successRatio = invalidStat
	w.averageTpt = invalidStat
}

// fold adds one notification's counts to the window.  If the new batch alone
// fills the window, the history is discarded; otherwise the old counts are
// shrunk proportionally to make room, keeping the old ratio intact.
func (w *windowStat) fold(attempted, acked, capacity, expectedTpt int) {
	if attempted <= 0 {
		return
	}
	if acked > attempted {
		acked = attempted
	}

	if attempted >= capacity {
		w.frames = capacity
		w.success = acked * capacity / attempted
	} else {
		if w.frames+attempted > capacity {
			keep := capacity - attempted
			w.success = w.success * keep / w.frames
			w.frames = keep
		}
		w.frames += attempted
		w.success += acked
	}
	if w.success > w.frames {
		w.success = w.frames
	}

	w.recompute(expectedTpt)
}

func (w *windowStat) recompute(expectedTpt int) {
	if w.frames == 0 {
		w.successRatio = invalidStat
		w.averageTpt = invalidStat
		return
	}

	w.successRatio = srScale * w.success / w.frames

	if w.success >= minSuccessSamples ||
		w.frames-w.success >= minFailureSamples {
		w.averageTpt = w.successRatio * expectedTpt / srScale
	} else {
		w.averageTpt = invalidStat
	}
}

// valid returns true if the window holds enough samples for its average
// throughput to mean anything.
func (w *windowStat) valid() bool {
	return w.averageTpt != invalidStat
}
