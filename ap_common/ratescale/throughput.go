/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package ratescale

import (
	"fmt"

	"bglink/ap_common/aputil"
	"bglink/common/wifi"
)

// Throughput values are in 100kbps units throughout, matching
// wifi.LegacyRate.Mbps10.
//
// The static tables are built once at init time from the 20MHz
// single-stream PHY rates, the per-width and per-guard multipliers, and a
// saturating MAC-efficiency model: without aggregation the per-frame
// overhead dominates and delivered throughput flattens out regardless of
// PHY rate; with aggregation it tracks the PHY rate much further before
// flattening.

// basePhyMcs10 is the 20MHz, one-stream, long-guard PHY rate per MCS.
var basePhyMcs10 = map[wifi.Mode][]int{
	// HT MCS 0-7; VHT extends the same ladder with MCS 8 and 9.
	wifi.ModeHT:  {65, 130, 195, 260, 390, 520, 585, 650},
	wifi.ModeVHT: {65, 130, 195, 260, 390, 520, 585, 650, 780, 867},
	// HE MCS 0-11, at the 0.8us guard.
	wifi.ModeHE: {86, 172, 258, 344, 516, 688, 774, 860, 1032, 1147,
		1290, 1434},
}

// Per-width PHY multipliers, in percent of the 20MHz rate.
var bwPhyPct = [wifi.NumBandwidths]int{100, 208, 450, 900}

// Per-guard PHY multipliers, in percent of the long-guard (HT/VHT) or 0.8us
// (HE) rate.
var giPhyPct = [wifi.NumGuardIntervals]int{
	wifi.GILong:  100,
	wifi.GIShort: 111,
	wifi.GIHe32:  85,
	wifi.GIHe16:  94,
	wifi.GIHe08:  100,
}

// Saturation points for the MAC-efficiency model.
const (
	satNoAgg = 350   // 35Mbps: one MPDU per exchange caps out quickly
	satAgg   = 16000 // 1.6Gbps
)

// macTpt applies the saturating efficiency model to a PHY rate.
func macTpt(phy10 int, agg bool) int {
	sat := satNoAgg
	if agg {
		sat = satAgg
	}
	return phy10 * sat / (phy10 + sat)
}

var (
	// legacyTpt[idx] is the expected throughput of wifi.LegacyRates[idx].
	// Legacy rates are never aggregated.
	legacyTpt [12]int

	// mcsTpt[agg][bw][nss-1][gi][mcs].  Entries for inapplicable
	// combinations (short HT guard on an HE lookup, MCS 9 on HT) are
	// left at zero and rejected by the lookup instead.
	mcsTpt [2][wifi.NumBandwidths][2][wifi.NumGuardIntervals][wifi.MaxMcsHE + 1]int
)

func init() {
	for i, r := range wifi.LegacyRates {
		phy := r.Mbps10
		if r.Cck {
			// The long CCK preamble costs roughly a third of the
			// airtime at these rates.
			phy = phy * 70 / 100
		}
		legacyTpt[i] = macTpt(phy, false)
	}

	for mode, base := range basePhyMcs10 {
		for gi, giPct := range giPhyPct {
			if !giApplies(mode, wifi.GuardInterval(gi)) {
				continue
			}
			for bw := wifi.BW20; bw < wifi.NumBandwidths; bw++ {
				for nss := wifi.Siso; nss <= wifi.Mimo2; nss++ {
					for mcs, phy20 := range base {
						phy := phy20 * bwPhyPct[bw] / 100
						phy = phy * giPct / 100
						phy *= nss
						for agg := 0; agg < 2; agg++ {
							v := macTpt(phy, agg == 1)
							old := mcsTpt[agg][bw][nss-1][gi][mcs]
							if v > old {
								mcsTpt[agg][bw][nss-1][gi][mcs] = v
							}
						}
					}
				}
			}
		}
	}
}

// giApplies reports whether a guard variant exists in a mode.
func giApplies(mode wifi.Mode, gi wifi.GuardInterval) bool {
	if mode == wifi.ModeHE {
		return gi.He()
	}
	return gi == wifi.GILong || gi == wifi.GIShort
}

// The HT and VHT tables overlap; HT entries are written first and VHT's are
// at least as large, so the max-write in init() leaves the VHT values in
// place.  The lookup enforces the per-mode MCS ceiling, which is what keeps
// HT from reading the VHT-only entries.

// expectedTptLegacy returns the expected throughput of a legacy rate.
func expectedTptLegacy(idx int) int {
	if idx < 0 || idx >= len(legacyTpt) {
		aputil.ReportError("legacy rate index %d out of range", idx)
		panic(fmt.Sprintf("legacy rate index %d out of range", idx))
	}
	return legacyTpt[idx]
}

// expectedTptMcs returns the expected throughput of an MCS rate.  The dcm
// and extRange flags model the HE dual-carrier and extended-range PPDU
// formats: half and quarter rate respectively.
func expectedTptMcs(mode wifi.Mode, agg bool, bw wifi.Bandwidth,
	gi wifi.GuardInterval, nss, mcs int, dcm, extRange bool) int {

	bad := func(why string) int {
		aputil.ReportError("throughput lookup %v/%v/%v/%dss/mcs%d: %s",
			mode, bw, gi, nss, mcs, why)
		panic("bad throughput lookup: " + why)
	}

	if mode == wifi.ModeLegacy || !mode.Valid() {
		return bad("not an MCS mode")
	}
	if !bw.Valid() {
		return bad("bad bandwidth")
	}
	if !giApplies(mode, gi) {
		return bad("guard variant not in mode")
	}
	if nss < wifi.Siso || nss > wifi.Mimo2 {
		return bad("bad stream count")
	}
	if mcs < 0 || mcs > wifi.MaxMcs(mode) {
		return bad("MCS out of range")
	}
	if (dcm || extRange) && mode != wifi.ModeHE {
		return bad("DCM/ER outside HE")
	}

	aggIdx := 0
	if agg {
		aggIdx = 1
	}
	tpt := mcsTpt[aggIdx][bw][nss-1][gi][mcs]
	if dcm {
		tpt /= 2
	}
	if extRange {
		tpt /= 4
	}
	return tpt
}

// phyRate10 returns a rate's raw PHY bitrate in 100kbps units, before any
// MAC efficiency model.  The AMSDU tier cutoffs are phrased against this.
func phyRate10(r *rateDesc) int {
	if r.Mode() == wifi.ModeLegacy {
		return wifi.LegacyRates[r.Index()].Mbps10
	}
	base := basePhyMcs10[r.Mode()]
	idx := r.Index()
	if idx < 0 || idx >= len(base) {
		aputil.ReportError("phy rate lookup: MCS %d out of range", idx)
		panic(fmt.Sprintf("phy rate lookup: MCS %d out of range", idx))
	}
	phy := base[idx] * bwPhyPct[r.Bandwidth()] / 100
	phy = phy * giPhyPct[r.Guard()] / 100
	return phy * r.Nss()
}

// expectedTptRate resolves a complete rate descriptor against the tables.
func expectedTptRate(r *rateDesc, agg bool) int {
	if r.Mode() == wifi.ModeLegacy {
		return expectedTptLegacy(r.Index())
	}
	return expectedTptMcs(r.Mode(), agg, r.Bandwidth(), r.Guard(),
		r.Nss(), r.Index(), false, false)
}
