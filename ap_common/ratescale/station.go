/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


// Package ratescale picks transmit parameters for each associated station:
// MCS, stream count, bandwidth, guard interval, antennas, transmit power
// reduction, and aggregate size.  Everything runs synchronously inside the
// driver's statistics notification; there are no timers and no goroutines,
// and "now" always arrives with the call.
package ratescale

import (
	"time"

	"bglink/ap_common/radio"
	"bglink/ap_common/wificaps"
	"bglink/common/wifi"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TxStats is one acknowledgment-statistics notification from the driver.
type TxStats struct {
	Attempted   int  // frames sent
	Acked       int  // frames acknowledged
	BaFrames    int  // frames covered by aggregated block-acks
	TrafficLoad int  // driver's pending-frame estimate; 0 if unknown
	Tid         int  // traffic identifier the batch belongs to
	NullData    bool // keepalive traffic; says nothing about the link
}

// Counters accumulate over a station's lifetime, for metrics and debugging.
type Counters struct {
	Evaluations     uint64
	SearchCycles    uint64
	Upscales        uint64
	Downscales      uint64
	ProbesCommitted uint64
	ProbesReverted  uint64
	BwProbes        uint64
	TpcMoves        uint64
	AmsduEnables    uint64
	AmsduDisables   uint64
	AmsduBlacklists uint64
}

// Station is the per-peer rate scaling state.  It is owned by the calling
// driver context; nothing here locks, and nothing here may block.
type Station struct {
	slog *zap.SugaredLogger
	rad  *radio.Radio
	chip *radio.Chip

	caps    *wificaps.StationCaps
	enabled bool

	state engineState
	snap  radioSnapshot // taken once per evaluation

	col     columnID
	rate    rateDesc
	windows [wifi.MaxMcsHE + 1]windowStat // per rate index in the column
	visited uint16                        // columns tried this search cycle
	search  searchData

	tpc   tpcTable
	amsdu amsduState
	aggOn bool

	totalSuccess int
	totalFailed  int
	lastAction   scaleAction

	lastSearchEnd    time.Time
	lastUpscale      time.Time // steady-state upscale throttle
	lastUpscaleCycle time.Time

	// Sticky configuration, preserved across reconfiguration.
	fixedRate   *Rate
	aggDuration time.Duration

	notifyHw   bool
	notifyHost bool

	counters Counters
}

// New returns a disabled Station.  It stays inert until a valid capability
// descriptor arrives via Configure.
func New(rad *radio.Radio, slog *zap.SugaredLogger) *Station {
	return &Station{
		slog:        slog,
		rad:         rad,
		chip:        rad.Chip(),
		aggDuration: defaultAggDuration,
	}
}

// Configure installs a new capability descriptor, resetting the scaling
// state.  A descriptor that fails validation is rejected wholesale, leaving
// the prior state (or the disabled state) untouched.  The fixed-rate
// override and the aggregation duration limit survive reconfiguration.
func (s *Station) Configure(caps *wificaps.StationCaps, now time.Time) error {
	if err := caps.Validate(s.chip); err != nil {
		return errors.Wrap(err, "station configuration rejected")
	}

	s.caps = caps
	s.enabled = true
	s.state = stateStayInColumn
	s.visited = 0
	s.search = searchData{originCol: colInvalid}
	s.totalSuccess = 0
	s.totalFailed = 0
	s.lastAction = actionStay
	s.lastSearchEnd = now
	s.lastUpscale = now
	s.lastUpscaleCycle = time.Time{}
	s.aggOn = false

	s.snap = snapshotRadio(s.rad)
	s.selectInitialRate()
	s.tpcReset()
	s.amsduReset()

	s.notifyHw = true
	s.notifyHost = true

	s.slog.Infof("configured %s, starting at %s", caps, s.rate.Snapshot())
	return nil
}

// Enabled reports whether the station has a valid configuration.
func (s *Station) Enabled() bool {
	return s.enabled
}

// SetFixedRate pins the station to one rate, bypassing adaptation; nil
// clears the override.  The setting survives reconfiguration.
func (s *Station) SetFixedRate(r *Rate) {
	s.fixedRate = r
	s.notifyHw = true
}

// FixedRate returns the override, or nil.
func (s *Station) FixedRate() *Rate {
	return s.fixedRate
}

// SetAggDuration bounds how long a single aggregate may occupy the air.
func (s *Station) SetAggDuration(d time.Duration) {
	if d <= 0 {
		d = defaultAggDuration
	}
	s.aggDuration = d
	s.notifyHw = true
}

// HandleTxStatistics folds one notification into the windows and runs the
// full decision procedure: scaling, search, TPC, AMSDU.  It runs to
// completion; outputs are picked up afterwards via Commands.
func (s *Station) HandleTxStatistics(stats TxStats, now time.Time) {
	if !s.enabled || stats.Attempted <= 0 || stats.NullData {
		return
	}
	s.counters.Evaluations++

	acked := stats.Acked
	if acked > stats.Attempted {
		acked = stats.Attempted
	}

	s.snap = snapshotRadio(s.rad)
	s.amsduObserve(stats, acked, now)
	s.aggOn = stats.BaFrames > 0 || s.amsdu.enabledSize > 0

	if s.fixedRate != nil {
		return
	}

	probed := s.search.active
	if probed {
		s.evalProbe(stats.Attempted, acked)
	} else {
		idx := s.rate.Index()
		s.windows[idx].fold(stats.Attempted, acked, s.windowCapacity(),
			s.expectedRateTpt(s.col, s.rate.Bandwidth(), idx))
	}

	s.totalSuccess += acked
	s.totalFailed += stats.Attempted - acked
	s.tpcObserve(stats.Attempted, acked)

	if s.state == stateStayInColumn {
		s.checkSearchTriggers(now)
	}

	// A batch spent on a probe judged the probe; within-column scaling
	// waits for the next one.
	if probed {
		s.lastAction = actionStay
	} else {
		s.lastAction = s.scaleWithinColumn(now)
	}

	if s.state == stateSearchCycle && s.lastAction == actionStay &&
		!s.search.active && s.windows[s.rate.Index()].valid() {
		ctx := &gateCtx{
			caps: s.caps,
			chip: s.chip,
			snap: s.snap,
			bw:   s.rate.Bandwidth(),
		}
		s.searchStep(ctx, now)
	}

	s.tpcDecide(s.snap, now)
	s.amsduDecide(now)
}

// Commands returns the pending outputs, clearing the notify flags.  Either
// may be nil when the corresponding state didn't change.  Re-sending a
// returned command is harmless; both are pure functions of current state.
func (s *Station) Commands() (*RateTableCommand, *AmsduNotification) {
	var cmd *RateTableCommand
	var note *AmsduNotification

	if s.notifyHw {
		cmd = s.RateTable()
		s.notifyHw = false
	}
	if s.notifyHost {
		n := s.Amsdu()
		note = &n
		s.notifyHost = false
	}
	return cmd, note
}

// CountersSnapshot returns a copy of the lifetime counters.
func (s *Station) CountersSnapshot() Counters {
	return s.counters
}

// Status is a point-in-time summary for the control protocol.
type Status struct {
	Enabled        bool
	State          string
	Column         string
	Rate           Rate
	SuccessPct     int
	MeasuredTpt    int // 100kbps
	ExpectedTpt    int // 100kbps
	PowerReduction int // dB
	AmsduSize      int
	AmsduTids      uint8
	AmsduBlacklist []int
	FixedRate      *Rate
	Counters       Counters
}

// StatusSnapshot summarizes the station for the control protocol.
func (s *Station) StatusSnapshot() *Status {
	st := &Status{
		Enabled:   s.enabled,
		Counters:  s.counters,
		FixedRate: s.fixedRate,
	}
	if !s.enabled {
		return st
	}

	win := &s.windows[s.rate.Index()]
	st.State = s.state.String()
	st.Column = s.col.String()
	st.Rate = s.rate.Snapshot()
	if win.frames > 0 {
		st.SuccessPct = win.successRatio * 100 / srScale
	}
	if win.valid() {
		st.MeasuredTpt = win.averageTpt
	}
	st.ExpectedTpt = expectedTptRate(&s.rate, s.aggOn)
	st.PowerReduction = s.PowerReduction()
	st.AmsduSize = s.amsdu.enabledSize
	st.AmsduTids = s.amsdu.tids
	st.AmsduBlacklist = s.AmsduBlacklist()
	return st
}

// maxUsableBw returns the widest channel both ends support with at least
// one single-stream rate.
func (s *Station) maxUsableBw() wifi.Bandwidth {
	caps := s.caps
	if caps.Mode == wifi.ModeLegacy {
		return wifi.BW20
	}
	bw := caps.MaxBandwidth
	if m, ok := s.chip.MaxBandwidth[caps.Band]; ok && m < bw {
		bw = m
	}
	for ; bw > wifi.BW20; bw-- {
		if caps.SupportsNss(wifi.Siso, bw) {
			return bw
		}
	}
	return wifi.BW20
}

// initialMcs is where a fresh association starts: low enough to work on a
// mediocre link, high enough not to waste a good one.
const initialMcs = 3

// selectInitialRate picks the column and rate a fresh configuration starts
// from: single stream on the first available antenna at the widest usable
// channel, at MCS 3 or the nearest supported index.
func (s *Station) selectInitialRate() {
	caps := s.caps
	bw := s.maxUsableBw()
	ctx := &gateCtx{caps: caps, chip: s.chip, snap: s.snap, bw: bw}

	prefs := []columnID{colSisoAntA, colSisoAntB, colLegacyAntA,
		colLegacyAntB}
	if caps.Mode == wifi.ModeLegacy {
		prefs = []columnID{colLegacyAntA, colLegacyAntB}
	}

	col := prefs[len(prefs)-1]
	for _, id := range prefs {
		if columns[id].usable(ctx) {
			col = id
			break
		}
	}

	var idx int
	if columns[col].family == famLegacy {
		bw = wifi.BW20
		idx = wifi.HighestBasicRate(caps.Band, caps.LegacyRates,
			legacyFallbackCeiling)
	} else {
		rates := s.ratesIn(col, bw)
		idx = higherRate(rates, initialMcs-1)
		if idx < 0 {
			idx = lowerRate(rates, initialMcs)
		}
	}

	s.col = col
	s.rate = s.buildRate(col, idx, bw)
	s.resetWindows()
}

// buildRate assembles a complete descriptor for a rate in a column.
func (s *Station) buildRate(col columnID, idx int, bw wifi.Bandwidth) rateDesc {
	c := &columns[col]
	mode := c.rateMode(s.caps)

	var r rateDesc
	r.ResetMode(mode)
	r.SetIndex(idx)
	if c.family == famLegacy {
		r.SetBandwidth(wifi.BW20)
	} else {
		r.SetBandwidth(bw)
	}
	r.SetGuard(c.guard(s.caps))
	r.SetAntenna(c.antenna)
	r.SetNss(c.nss())
	if mode != wifi.ModeLegacy {
		r.SetStbc(s.caps.Stbc && c.family == famSiso &&
			wifi.NumChains(s.chip.TxChainMask) >= 2)
		r.SetLdpc(s.caps.Ldpc)
	}
	return r
}

// ratesIn returns the bitmap of usable rate indexes for a column at a
// width: supported MCSes, or band-legal supported legacy rates.
func (s *Station) ratesIn(col columnID, bw wifi.Bandwidth) uint16 {
	c := &columns[col]
	if c.family == famLegacy {
		var mask uint16
		for i := range wifi.LegacyRates {
			if wifi.LegacyRateLegal(i, s.caps.Band) &&
				s.caps.LegacyRates&(1<<uint(i)) != 0 {
				mask |= 1 << uint(i)
			}
		}
		return mask
	}
	// Clip stray bits above the mode's MCS ceiling.
	valid := uint16(1<<uint(wifi.MaxMcs(s.caps.Mode)+1)) - 1
	return s.caps.McsSupport[c.nss()-1][bw] & valid
}

// expectedRateTpt looks up the expected throughput of a column's rate at an
// index and width, with the current aggregation state.
func (s *Station) expectedRateTpt(col columnID, bw wifi.Bandwidth, idx int) int {
	c := &columns[col]
	if c.family == famLegacy {
		return expectedTptLegacy(idx)
	}
	return expectedTptMcs(s.caps.Mode, s.aggOn, bw, c.guard(s.caps),
		c.nss(), idx, false, false)
}

func (s *Station) windowCapacityFor(col columnID) int {
	if columns[col].family == famLegacy {
		return maxWindowLegacy
	}
	return maxWindow
}

func (s *Station) windowCapacity() int {
	return s.windowCapacityFor(s.col)
}

func (s *Station) resetWindows() {
	for i := range s.windows {
		s.windows[i].reset()
	}
}

func (s *Station) setRateIndex(idx int) {
	s.rate.SetIndex(idx)
	s.notifyHw = true
}

// checkSearchTriggers decides whether steady state has run its course:
// enough successes to justify hunting for something faster, or enough
// failures (or enough elapsed time) to force a re-evaluation.
func (s *Station) checkSearchTriggers(now time.Time) {
	succLim, failLim := searchLimits(columns[s.col].family == famLegacy)

	if s.totalFailed > failLim ||
		now.Sub(s.lastSearchEnd) > searchTimeout {
		s.startSearchCycle(now, false)
	} else if s.totalSuccess > succLim &&
		now.Sub(s.lastUpscaleCycle) > upscaleCycleCooldown {
		s.startSearchCycle(now, true)
	}
}

func (s *Station) startSearchCycle(now time.Time, upscale bool) {
	s.state = stateSearchCycle
	s.counters.SearchCycles++
	if upscale {
		s.lastUpscaleCycle = now
	}
	s.search = searchData{originCol: s.col}
	s.visited |= 1 << uint(s.col)
	s.totalSuccess = 0
	s.totalFailed = 0
	s.slog.Debugf("search cycle from %v (upscale=%v)", s.col, upscale)
}

// scaleWithinColumn applies the within-column policy to the current rate,
// moving one supported index up or down.  Steady-state upscales are
// throttled; a running search cycle scales freely.
func (s *Station) scaleWithinColumn(now time.Time) scaleAction {
	idx := s.rate.Index()
	rates := s.ratesIn(s.col, s.rate.Bandwidth())
	lowIdx := lowerRate(rates, idx)
	highIdx := higherRate(rates, idx)

	var lower, higher neighbor
	if lowIdx >= 0 {
		lower = neighbor{
			exists:      true,
			win:         &s.windows[lowIdx],
			expectedTpt: s.expectedRateTpt(s.col, s.rate.Bandwidth(), lowIdx),
		}
	}
	if highIdx >= 0 {
		higher = neighbor{
			exists:      true,
			win:         &s.windows[highIdx],
			expectedTpt: s.expectedRateTpt(s.col, s.rate.Bandwidth(), highIdx),
		}
	}

	action := getScaleAction(&s.windows[idx], &lower, &higher)

	switch action {
	case actionUpscale:
		if highIdx < 0 {
			return actionStay
		}
		if s.state == stateStayInColumn &&
			now.Sub(s.lastUpscale) < upscaleThrottle {
			return actionStay
		}
		s.lastUpscale = now
		s.setRateIndex(highIdx)
		s.counters.Upscales++

	case actionDownscale:
		if lowIdx < 0 {
			return actionStay
		}
		s.setRateIndex(lowIdx)
		s.counters.Downscales++
	}
	return action
}

// lowerRate returns the next set bit below idx, or -1.
func lowerRate(rates uint16, idx int) int {
	for i := idx - 1; i >= 0; i-- {
		if rates&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

// higherRate returns the next set bit above idx, or -1.
func higherRate(rates uint16, idx int) int {
	for i := idx + 1; i < 16; i++ {
		if rates&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}
