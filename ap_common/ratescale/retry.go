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

const (
	maxRetryRows  = 16
	rateTryCount  = 3
	stableRepeats = 3

	// Aggregate bounds handed to the hardware alongside the rate rows.
	defaultAggDuration = 4 * time.Millisecond
	defaultAggFrames   = 64

	// legacyFallbackCeiling caps where the legacy fallback chain starts,
	// in 100kbps: nothing above 24Mbps.
	legacyFallbackCeiling = 240
)

// RetryRow is one entry of the hardware retry table.
type RetryRow struct {
	Rate  Rate
	Tries int
	Rts   bool
}

// RateTableCommand is the engine's output to the hardware: the ordered
// retry sequence plus power and aggregation settings.  Rebuilding it from
// unchanged state yields an identical command, so re-sends are harmless.
type RateTableCommand struct {
	Rows           []RetryRow
	PowerReduction int // dB
	AggDuration    time.Duration
	AggFrameLimit  int
}

// RateTable assembles the retry table from the current state: an optional
// probe row, the stable rate block, a reduced-bandwidth copy, then legacy
// fallbacks down to the lowest supported rate.
func (s *Station) RateTable() *RateTableCommand {
	cmd := &RateTableCommand{
		PowerReduction: s.PowerReduction(),
		AggDuration:    s.aggDuration,
		AggFrameLimit:  defaultAggFrames,
	}
	if !s.enabled {
		return cmd
	}

	stable := s.rate.Snapshot()
	if s.fixedRate != nil {
		stable = *s.fixedRate
	}

	probing := s.search.active && s.fixedRate == nil
	if probing {
		cmd.Rows = append(cmd.Rows, RetryRow{
			Rate:  s.search.rate.Snapshot(),
			Tries: rateTryCount,
		})
	}

	for i := 0; i < stableRepeats; i++ {
		cmd.Rows = append(cmd.Rows, RetryRow{
			Rate:  stable,
			Tries: rateTryCount,
		})
	}

	// A narrower copy of the stable rate buys headroom before we give up
	// on the MCS entirely.  A probe row already serves that role.
	if !probing && stable.Mode != wifi.ModeLegacy &&
		stable.Bandwidth > wifi.BW20 {
		narrow := stable
		narrow.Bandwidth--
		if idx := s.clipIndex(narrow.Nss, narrow.Bandwidth,
			narrow.Index); idx >= 0 {
			narrow.Index = idx
			cmd.Rows = append(cmd.Rows, RetryRow{
				Rate:  narrow,
				Tries: rateTryCount,
			})
		}
	}

	s.appendLegacyFallbacks(cmd, stable)

	if len(cmd.Rows) > maxRetryRows {
		cmd.Rows = cmd.Rows[:maxRetryRows]
	}

	s.markRts(cmd)
	return cmd
}

// clipIndex returns the highest supported MCS at or below idx for the given
// shape, or -1.
func (s *Station) clipIndex(nss int, bw wifi.Bandwidth, idx int) int {
	for ; idx >= 0; idx-- {
		if s.caps.SupportsMcs(nss, bw, idx) {
			return idx
		}
	}
	return -1
}

// appendLegacyFallbacks walks the legacy rates downward from the fallback
// ceiling, toggling the antenna between rows when the chip permits and both
// antennas are in hand.
func (s *Station) appendLegacyFallbacks(cmd *RateTableCommand, stable Rate) {
	idx := wifi.HighestBasicRate(s.caps.Band, s.caps.LegacyRates,
		legacyFallbackCeiling)
	if idx == -1 {
		return
	}
	if stable.Mode == wifi.ModeLegacy && stable.Index < idx {
		// Don't fall back to something faster than the stable rate.
		idx = stable.Index
	}

	ant := stable.Antenna
	if wifi.NumChains(ant) > 1 {
		ant = wifi.AntennaA
	}
	toggle := s.chip.ToggleAntenna && !s.snap.coexOwned &&
		s.snap.antennaMask == wifi.AntennaAB

	for ; idx >= 0; idx = wifi.LegacyRateLower(idx, s.caps.Band,
		s.caps.LegacyRates) {
		cmd.Rows = append(cmd.Rows, RetryRow{
			Rate: Rate{
				Mode:      wifi.ModeLegacy,
				Index:     idx,
				Bandwidth: wifi.BW20,
				Guard:     wifi.GILong,
				Antenna:   ant,
				Nss:       wifi.Siso,
			},
			Tries: rateTryCount,
		})
		if toggle {
			ant ^= wifi.AntennaAB
		}
		if len(cmd.Rows) >= maxRetryRows {
			return
		}
	}
}

// markRts forces RTS protection where the table needs it: on legacy rows
// sharing a table with MCS rows, and on the leading rows while AMSDU frames
// are in flight.
func (s *Station) markRts(cmd *RateTableCommand) {
	mixed := false
	for _, row := range cmd.Rows {
		if row.Rate.Mode != wifi.ModeLegacy {
			mixed = true
			break
		}
	}

	for i := range cmd.Rows {
		if mixed && cmd.Rows[i].Rate.Mode == wifi.ModeLegacy {
			cmd.Rows[i].Rts = true
		}
		if s.amsdu.enabledSize > 0 && i < stableRepeats {
			cmd.Rows[i].Rts = true
		}
	}
}
