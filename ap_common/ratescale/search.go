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

// searchData tracks one search cycle: which column it started from, the
// candidate currently being probed (if any), and whether this cycle has
// already spent its single bandwidth change.
type searchData struct {
	active      bool // a probe rate is installed
	col         columnID
	rate        rateDesc
	win         windowStat
	expectedTpt int

	originCol columnID
	originTpt int // stable rate's measured throughput when the probe went in
	bwTried   bool
}

// searchTarget is the throughput a candidate column must beat to be worth
// probing: the current rate's measured throughput, or its full expected
// throughput when the link is already clean.
func (s *Station) searchTarget() int {
	cur := &s.windows[s.rate.Index()]
	target := cur.averageTpt
	if target == invalidStat {
		target = 0
	}
	if cur.frames > 0 && cur.successRatio >= srNoDownscale {
		e := expectedTptRate(&s.rate, s.aggOn)
		if e > target {
			target = e
		}
	}
	return target
}

// probeIndex picks the rate a probe starts at within a candidate column: the
// lowest supported rate expected to beat the current measured throughput, so
// a failed probe costs as little as possible.
func (s *Station) probeIndex(col columnID, bw wifi.Bandwidth, rates uint16) int {
	measured := s.windows[s.rate.Index()].averageTpt
	if measured == invalidStat {
		measured = 0
	}

	best := -1
	for idx := 0; idx < 16; idx++ {
		if rates&(1<<uint(idx)) == 0 {
			continue
		}
		best = idx
		if s.expectedRateTpt(col, bw, idx) > measured {
			return idx
		}
	}
	return best
}

// nextColumn walks the current column's candidate list, skipping columns
// already visited this cycle and columns whose gates fail, and returns the
// first whose best supported rate meets the target throughput.  Rejected
// candidates are marked visited, so the walk shrinks every cycle and the
// search always terminates.
func (s *Station) nextColumn(ctx *gateCtx, target int) (columnID, int, bool) {
	for _, id := range columns[s.col].next {
		if s.visited&(1<<uint(id)) != 0 {
			continue
		}
		col := &columns[id]
		if !col.usable(ctx) {
			continue
		}

		bw := ctx.bw
		if col.family == famLegacy {
			bw = wifi.BW20
		}
		rates := s.ratesIn(id, bw)
		if rates == 0 {
			s.visited |= 1 << uint(id)
			continue
		}

		best := -1
		for idx := 15; idx >= 0; idx-- {
			if rates&(1<<uint(idx)) != 0 {
				best = idx
				break
			}
		}
		if s.expectedRateTpt(id, bw, best) < target {
			s.visited |= 1 << uint(id)
			continue
		}

		return id, s.probeIndex(id, bw, rates), true
	}
	return colInvalid, 0, false
}

// tryBandwidthProbe attempts the cycle's single ±1 bandwidth change.  It
// only fires when the current rate sits at the edge of its width's MCS
// range, and it is tried against the cycle's originating column and that
// column's stream counterpart.
func (s *Station) tryBandwidthProbe(ctx *gateCtx, now time.Time) bool {
	if s.search.bwTried || columns[s.col].family == famLegacy {
		return false
	}

	idx := s.rate.Index()
	maxMcs := wifi.MaxMcs(s.caps.Mode)

	var nbw wifi.Bandwidth
	var ok bool
	switch {
	case idx >= maxMcs-2:
		nbw, ok = s.rate.Bandwidth().Wider()
		ok = ok && nbw <= s.maxUsableBw()
	case idx <= 2:
		nbw, ok = s.rate.Bandwidth().Narrower()
	}
	if !ok {
		return false
	}

	candidates := []columnID{s.search.originCol}
	if cp := streamCounterpart[s.search.originCol]; cp != colInvalid {
		candidates = append(candidates, cp)
	}

	nctx := *ctx
	nctx.bw = nbw
	for _, id := range candidates {
		col := &columns[id]
		if col.family == famLegacy || !col.usable(&nctx) {
			continue
		}
		rates := s.ratesIn(id, nbw)
		if rates == 0 {
			continue
		}

		s.search.bwTried = true
		s.counters.BwProbes++
		s.installProbe(id, s.probeIndex(id, nbw, rates), nbw)
		return true
	}
	return false
}

// installProbe makes the candidate the live transmit rate for exactly one
// statistics cycle.
func (s *Station) installProbe(col columnID, idx int, bw wifi.Bandwidth) {
	cur := &s.windows[s.rate.Index()]
	originTpt := cur.averageTpt
	if originTpt == invalidStat {
		originTpt = 0
	}

	s.search.active = true
	s.search.col = col
	s.search.rate = s.buildRate(col, idx, bw)
	s.search.win.reset()
	s.search.expectedTpt = expectedTptRate(&s.search.rate, s.aggOn)
	s.search.originTpt = originTpt
	s.notifyHw = true

	s.slog.Debugf("probing %s (%v), origin tpt %d",
		s.search.rate.Snapshot(), col, originTpt)
}

// evalProbe judges a probe after its single statistics cycle: commit the
// candidate if it measured better than the stable rate, otherwise mark it
// visited and fall back.
func (s *Station) evalProbe(attempted, acked int) {
	s.search.win.fold(attempted, acked, s.windowCapacityFor(s.search.col),
		s.search.expectedTpt)

	s.search.active = false
	s.visited |= 1 << uint(s.search.col)

	if s.search.win.valid() && s.search.win.averageTpt > s.search.originTpt {
		s.counters.ProbesCommitted++
		s.slog.Debugf("probe %v committed: %d > %d", s.search.col,
			s.search.win.averageTpt, s.search.originTpt)

		s.col = s.search.col
		s.rate = s.search.rate
		s.resetWindows()
		s.windows[s.rate.Index()] = s.search.win
		s.totalSuccess = 0
		s.totalFailed = 0
		s.tpcReset()
	} else {
		s.counters.ProbesReverted++
		s.slog.Debugf("probe %v reverted", s.search.col)
	}
	s.notifyHw = true
}

// searchStep advances the cycle when within-column scaling has settled: try
// the next candidate column, then the bandwidth change, then end the cycle.
func (s *Station) searchStep(ctx *gateCtx, now time.Time) {
	if col, idx, ok := s.nextColumn(ctx, s.searchTarget()); ok {
		bw := ctx.bw
		if columns[col].family == famLegacy {
			bw = wifi.BW20
		}
		s.installProbe(col, idx, bw)
		return
	}
	if s.tryBandwidthProbe(ctx, now) {
		return
	}
	s.endSearchCycle(now)
}

// endSearchCycle returns to steady state.  The visited set is cleared only
// here, on the way back into stayInColumn.
func (s *Station) endSearchCycle(now time.Time) {
	s.state = stateStayInColumn
	s.visited = 0
	s.search = searchData{originCol: colInvalid}
	s.lastSearchEnd = now
	s.totalSuccess = 0
	s.totalFailed = 0
}
