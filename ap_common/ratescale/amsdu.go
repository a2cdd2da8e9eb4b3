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

	"bglink/ap_common/aputil"
	"bglink/common/wifi"
)

// AMSDU thresholds.  Ratios share the 128 scale; loads are frames per
// second over a one-second window.
const (
	amsduEnableSr  = 85 * srScale / 100
	amsduDisableSr = 60 * srScale / 100

	amsduEnableLoad  = 300
	amsduDisableLoad = 100

	amsduLoadPeriod  = time.Second
	amsduLoadBuckets = 10

	// A disable this soon after its enable counts against the fail-safe;
	// enough of them in a row blacklists the size for good.
	amsduFailsafeWindow = 2 * time.Second
	amsduFailsafeLimit  = 4
)

// amsduTier is one candidate aggregate size.  A tier applies once the
// current rate's raw PHY bitrate reaches its cutoff; the two big tiers only
// exist for HE stations.
type amsduTier struct {
	size     int
	minPhy10 int
	heOnly   bool
}

var amsduTiers = []amsduTier{
	{3500, 1350, false},
	{5000, 2700, false},
	{8000, 4500, true},
	{11000, 7000, true},
}

// AmsduNotification tells the data path which aggregate size to build, and
// for which TIDs.  Size 0 means AMSDU is off.
type AmsduNotification struct {
	Size    int
	TidMask uint8
}

type amsduState struct {
	supported   bool  // station-wide kill switch
	enabledSize int   // 0 while disabled
	tids        uint8 // TIDs that have carried traffic
	blacklist   uint8 // bit per tier index; never cleared
	quickFails  int
	enabledAt   time.Time

	load      *aputil.RateAccumulator
	attempted *aputil.RateAccumulator
	acked     *aputil.RateAccumulator
}

func (s *Station) amsduReset() {
	s.amsdu.supported = s.caps.MaxAmsduLen > 0
	s.amsdu.enabledSize = 0
	s.amsdu.tids = 0
	s.amsdu.quickFails = 0
	s.amsdu.enabledAt = time.Time{}
	if s.amsdu.load == nil {
		s.amsdu.load = aputil.NewRateAccumulator(amsduLoadPeriod,
			amsduLoadBuckets)
		s.amsdu.attempted = aputil.NewRateAccumulator(amsduLoadPeriod,
			amsduLoadBuckets)
		s.amsdu.acked = aputil.NewRateAccumulator(amsduLoadPeriod,
			amsduLoadBuckets)
	} else {
		s.amsdu.load.Reset()
		s.amsdu.attempted.Reset()
		s.amsdu.acked.Reset()
	}
	// The blacklist survives reconfiguration; it describes the peer, not
	// the association.
	if s.amsdu.blacklist != 0 && s.allTiersBlacklisted() {
		s.amsdu.supported = false
	}
}

// amsduObserve feeds one notification into the windowed load and
// success-ratio estimates.
func (s *Station) amsduObserve(stats TxStats, acked int, now time.Time) {
	load := stats.TrafficLoad
	if load <= 0 {
		load = stats.Attempted
	}
	s.amsdu.load.Add(now, load)
	s.amsdu.attempted.Add(now, stats.Attempted)
	s.amsdu.acked.Add(now, acked)
	if stats.Tid >= 0 && stats.Tid < wifi.NumTids {
		s.amsdu.tids |= 1 << uint(stats.Tid)
	}
}

// tierIndex maps a size back to its tier, or -1.
func tierIndex(size int) int {
	for i, t := range amsduTiers {
		if t.size == size {
			return i
		}
	}
	return -1
}

// amsduCandidate returns the largest non-blacklisted tier size the current
// rate's PHY bitrate supports, or 0.
func (s *Station) amsduCandidate() int {
	if !s.amsdu.supported || s.caps.MaxAmsduLen == 0 {
		return 0
	}
	phy := phyRate10(&s.rate)
	best := 0
	for i, t := range amsduTiers {
		if t.heOnly && s.caps.Mode != wifi.ModeHE {
			continue
		}
		if t.size > s.caps.MaxAmsduLen {
			continue
		}
		if s.amsdu.blacklist&(1<<uint(i)) != 0 {
			continue
		}
		if phy >= t.minPhy10 {
			best = t.size
		}
	}
	return best
}

// allTiersBlacklisted reports whether every tier this station could ever use
// is blacklisted.
func (s *Station) allTiersBlacklisted() bool {
	for i, t := range amsduTiers {
		if t.heOnly && s.caps.Mode != wifi.ModeHE {
			continue
		}
		if t.size > s.caps.MaxAmsduLen {
			continue
		}
		if s.amsdu.blacklist&(1<<uint(i)) == 0 {
			return false
		}
	}
	return true
}

func (s *Station) amsduWindowedSr(now time.Time) int {
	att := s.amsdu.attempted.Total(now)
	if att == 0 {
		return invalidStat
	}
	return srScale * s.amsdu.acked.Total(now) / att
}

func (s *Station) amsduDisable(now time.Time, why string) {
	a := &s.amsdu

	if now.Sub(a.enabledAt) < amsduFailsafeWindow {
		a.quickFails++
		if a.quickFails >= amsduFailsafeLimit {
			if i := tierIndex(a.enabledSize); i >= 0 {
				a.blacklist |= 1 << uint(i)
				a.quickFails = 0
				s.counters.AmsduBlacklists++
				s.slog.Infof("amsdu %d blacklisted", a.enabledSize)
			}
			if s.allTiersBlacklisted() {
				a.supported = false
				s.slog.Infof("amsdu disabled station-wide")
			}
		}
	} else {
		a.quickFails = 0
	}

	s.slog.Debugf("amsdu %d disabled: %s", a.enabledSize, why)
	a.enabledSize = 0
	s.counters.AmsduDisables++
	s.notifyHost = true
}

// amsduDecide runs the aggregation-size controller for one evaluation.
func (s *Station) amsduDecide(now time.Time) {
	a := &s.amsdu

	if !a.supported || s.caps.MaxAmsduLen == 0 {
		if a.enabledSize != 0 {
			s.amsduDisable(now, "support lost")
		}
		return
	}

	candidate := s.amsduCandidate()
	load := a.load.Total(now)
	sr := s.amsduWindowedSr(now)

	if a.enabledSize == 0 {
		if candidate > 0 && sr != invalidStat && sr >= amsduEnableSr &&
			load >= amsduEnableLoad {
			a.enabledSize = candidate
			a.enabledAt = now
			s.counters.AmsduEnables++
			s.notifyHost = true
			s.slog.Debugf("amsdu enabled at %d", candidate)
		}
		return
	}

	switch {
	case sr != invalidStat && sr < amsduDisableSr:
		s.amsduDisable(now, "success ratio collapsed")
	case candidate < a.enabledSize:
		s.amsduDisable(now, "rate dropped below the size's cutoff")
	case load < amsduDisableLoad && a.load.Primed(now) &&
		now.Sub(a.enabledAt) >= amsduLoadPeriod:
		s.amsduDisable(now, "traffic load fell away")
	}
}

// Amsdu returns the current notification for the data path.
func (s *Station) Amsdu() AmsduNotification {
	return AmsduNotification{
		Size:    s.amsdu.enabledSize,
		TidMask: s.amsdu.tids,
	}
}

// AmsduBlacklist returns the sizes permanently ruled out for this station.
func (s *Station) AmsduBlacklist() []int {
	var sizes []int
	for i, t := range amsduTiers {
		if s.amsdu.blacklist&(1<<uint(i)) != 0 {
			sizes = append(sizes, t.size)
		}
	}
	return sizes
}
