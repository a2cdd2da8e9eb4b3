/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package ratescale

import (
	"time"

	"bglink/common/wifi"
)

// Transmit power control only runs while nothing else is in flux: the rate
// must be the station's optimal one, no search may be running, and sleep
// must be permitted.  Each reduction step keeps an independent statistics
// window; a step may only be entered when its window is empty, so a step
// that failed before is re-probed only after a reset.
const (
	tpcStepDb = 3 // dB of reduction per step

	tpcDisableSr  = 15 * srScale / 100 // give the power back entirely
	tpcDecreaseSr = 75 * srScale / 100 // back off one step
	tpcIncreaseSr = 90 * srScale / 100 // try one step deeper

	// tpcSearchFrames is how much traffic the dedicated first-engagement
	// window watches before the engine returns to steady state.
	tpcSearchFrames = 64

	// amsduTpcDwell: when AMSDU applies to the current rate, it must have
	// been enabled this long before TPC may engage.
	amsduTpcDwell = 5 * time.Second
)

// Sentinels for tpcTable.curr.
const (
	tpcInactive = -1 // not engaged; full power
	tpcDisabled = -2 // engaged and failed; full power until the rate moves
)

type tpcTable struct {
	windows []windowStat // one per reduction step
	curr    int          // step in [0,len) or a sentinel
	testing bool         // inside the first-engagement search window
}

func (s *Station) tpcReset() {
	s.tpc.windows = make([]windowStat, s.chip.TpcSteps)
	for i := range s.tpc.windows {
		s.tpc.windows[i].reset()
	}
	s.tpc.curr = tpcInactive
	s.tpc.testing = false
	if s.state == stateTpcSearch {
		s.state = stateStayInColumn
	}
}

// PowerReduction returns the currently commanded reduction in dB.
func (s *Station) PowerReduction() int {
	if s.tpc.curr < 0 {
		return 0
	}
	return (s.tpc.curr + 1) * tpcStepDb
}

// tpcObserve folds the notification's counts into the active step's window.
func (s *Station) tpcObserve(attempted, acked int) {
	if s.tpc.curr < 0 {
		return
	}
	s.tpc.windows[s.tpc.curr].fold(attempted, acked, s.windowCapacity(),
		expectedTptRate(&s.rate, s.aggOn))
}

// rateOptimal reports whether the current rate is the best shape the station
// supports: best mode, widest usable channel, short guard if available, and
// two streams if both ends have them.  Power is only worth shaving when the
// rate itself has nowhere better to go.
func (s *Station) rateOptimal() bool {
	caps := s.caps
	if caps.Mode == wifi.ModeLegacy {
		return false
	}
	if s.rate.Mode() != caps.Mode {
		return false
	}

	bw := s.maxUsableBw()
	if s.rate.Bandwidth() != bw {
		return false
	}

	wantNss := wifi.Siso
	if caps.SupportsNss(wifi.Mimo2, bw) &&
		wifi.NumChains(s.chip.TxChainMask) >= 2 {
		wantNss = wifi.Mimo2
	}
	if s.rate.Nss() != wantNss {
		return false
	}

	if columns[s.col].sgi != caps.Sgi(bw) {
		return false
	}

	return true
}

// amsduApplies reports whether AMSDU could be active at the current rate.
func (s *Station) amsduApplies() bool {
	return s.caps.MaxAmsduLen > 0 && s.amsdu.supported &&
		s.amsduCandidate() > 0
}

func (s *Station) tpcAllowed(snap radioSnapshot, now time.Time) bool {
	if s.chip.TpcSteps == 0 || !snap.sleepAllowed {
		return false
	}
	if s.state == stateSearchCycle || s.search.active {
		return false
	}
	if s.lastAction != actionStay {
		// The current rate is itself a fresh probe or upscale.
		return false
	}
	if !s.rateOptimal() {
		return false
	}
	if s.amsduApplies() {
		if s.amsdu.enabledSize == 0 ||
			now.Sub(s.amsdu.enabledAt) < amsduTpcDwell {
			return false
		}
	}
	return true
}

func (s *Station) tpcMove(step int) {
	s.tpc.curr = step
	s.counters.TpcMoves++
	s.notifyHw = true
}

func (s *Station) tpcDecrease() {
	if s.tpc.curr > 0 {
		s.tpcMove(s.tpc.curr - 1)
	} else {
		s.tpcMove(tpcInactive)
	}
}

// tpcDecide runs the power controller for one evaluation.
func (s *Station) tpcDecide(snap radioSnapshot, now time.Time) {
	if !s.tpcAllowed(snap, now) {
		if s.tpc.curr >= 0 {
			// Give the power back, but keep the per-step history.
			s.tpcMove(tpcInactive)
		}
		if s.state == stateTpcSearch {
			s.state = stateStayInColumn
			s.tpc.testing = false
		}
		return
	}

	if s.tpc.curr == tpcDisabled {
		return
	}

	if s.tpc.curr == tpcInactive {
		// First allowance: run the dedicated search sub-state on the
		// shallowest step.
		for i := range s.tpc.windows {
			s.tpc.windows[i].reset()
		}
		s.tpc.testing = true
		s.state = stateTpcSearch
		s.tpcMove(0)
		s.slog.Debugf("tpc engaged at %d dB", s.PowerReduction())
		return
	}

	win := &s.tpc.windows[s.tpc.curr]
	if win.frames == 0 {
		return
	}

	switch {
	case win.successRatio <= tpcDisableSr:
		if s.tpc.testing {
			s.tpcDecrease()
		} else {
			s.tpcMove(tpcDisabled)
			s.slog.Debugf("tpc disabled until the rate moves")
		}

	case win.successRatio <= tpcDecreaseSr:
		s.tpcDecrease()

	case win.successRatio >= tpcIncreaseSr &&
		s.tpc.curr+1 < len(s.tpc.windows) &&
		s.tpc.windows[s.tpc.curr+1].frames == 0:
		s.tpcMove(s.tpc.curr + 1)
	}

	if s.state == stateTpcSearch && win.frames >= tpcSearchFrames {
		s.state = stateStayInColumn
		s.tpc.testing = false
	}
}
