/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package ratescale

import (
	"bglink/ap_common/radio"
	"bglink/ap_common/wificaps"
	"bglink/common/wifi"
)

// columnID indexes the static column table.  The search cycle's visited set
// is a bitmask over these.
type columnID int

const (
	colInvalid columnID = iota - 1

	colLegacyAntA
	colLegacyAntB
	colSisoAntA
	colSisoAntB
	colSisoAntASgi
	colSisoAntBSgi
	colMimo2
	colMimo2Sgi

	numColumns
)

var columnNames = [numColumns]string{
	"legacy-a", "legacy-b",
	"siso-a", "siso-b", "siso-a-sgi", "siso-b-sgi",
	"mimo2", "mimo2-sgi",
}

func (c columnID) String() string {
	if c >= 0 && c < numColumns {
		return columnNames[c]
	}
	return "invalid"
}

// colFamily is the modulation family a column transmits in.
type colFamily int

const (
	famLegacy colFamily = iota
	famSiso
	famMimo
)

// gate is one of the predicates that decide whether a column may be used for
// a station at a given bandwidth.  The predicates are data, not function
// pointers, so the column graph stays a plain table.
type gate int

const (
	// gateAntenna requires every antenna in the column's mask to be
	// available in this invocation's radio snapshot.
	gateAntenna gate = iota

	// gateSisoRates requires at least one supported single-stream MCS at
	// the current bandwidth.
	gateSisoRates

	// gateMimoRates additionally requires two chains at both ends.
	gateMimoRates

	// gateSgi requires short-guard support at the current bandwidth, in
	// the flavor of the station's best mode.
	gateSgi

	// gateBlock2xLtf fails a short-guard HE column when the chip can't
	// transmit the 2x LTF variants and the station offers no 1x LTF
	// alternative.
	gateBlock2xLtf
)

// column is one static operating point: a modulation family, an antenna
// mask, and a guard-interval variant, plus the hand-curated preference order
// of columns to try next when this one stops improving.
type column struct {
	id      columnID
	family  colFamily
	antenna int
	sgi     bool
	next    []columnID
	checks  []gate
}

var columns = [numColumns]column{
	colLegacyAntA: {
		id:      colLegacyAntA,
		family:  famLegacy,
		antenna: wifi.AntennaA,
		checks:  []gate{gateAntenna},
		next: []columnID{
			colSisoAntA, colSisoAntB, colMimo2, colLegacyAntB,
		},
	},
	colLegacyAntB: {
		id:      colLegacyAntB,
		family:  famLegacy,
		antenna: wifi.AntennaB,
		checks:  []gate{gateAntenna},
		next: []columnID{
			colSisoAntB, colSisoAntA, colMimo2, colLegacyAntA,
		},
	},
	colSisoAntA: {
		id:      colSisoAntA,
		family:  famSiso,
		antenna: wifi.AntennaA,
		checks:  []gate{gateAntenna, gateSisoRates},
		next: []columnID{
			colSisoAntB, colMimo2, colSisoAntASgi, colSisoAntBSgi,
			colLegacyAntA, colLegacyAntB,
		},
	},
	colSisoAntB: {
		id:      colSisoAntB,
		family:  famSiso,
		antenna: wifi.AntennaB,
		checks:  []gate{gateAntenna, gateSisoRates},
		next: []columnID{
			colSisoAntA, colMimo2, colSisoAntBSgi, colSisoAntASgi,
			colLegacyAntB, colLegacyAntA,
		},
	},
	colSisoAntASgi: {
		id:      colSisoAntASgi,
		family:  famSiso,
		antenna: wifi.AntennaA,
		sgi:     true,
		checks:  []gate{gateAntenna, gateSisoRates, gateSgi, gateBlock2xLtf},
		next: []columnID{
			colSisoAntBSgi, colMimo2Sgi, colSisoAntA, colSisoAntB,
			colLegacyAntA, colLegacyAntB,
		},
	},
	colSisoAntBSgi: {
		id:      colSisoAntBSgi,
		family:  famSiso,
		antenna: wifi.AntennaB,
		sgi:     true,
		checks:  []gate{gateAntenna, gateSisoRates, gateSgi, gateBlock2xLtf},
		next: []columnID{
			colSisoAntASgi, colMimo2Sgi, colSisoAntB, colSisoAntA,
			colLegacyAntB, colLegacyAntA,
		},
	},
	colMimo2: {
		id:      colMimo2,
		family:  famMimo,
		antenna: wifi.AntennaAB,
		checks:  []gate{gateAntenna, gateMimoRates},
		next: []columnID{
			colMimo2Sgi, colSisoAntA, colSisoAntB,
			colLegacyAntA, colLegacyAntB,
		},
	},
	colMimo2Sgi: {
		id:      colMimo2Sgi,
		family:  famMimo,
		antenna: wifi.AntennaAB,
		sgi:     true,
		checks:  []gate{gateAntenna, gateMimoRates, gateSgi, gateBlock2xLtf},
		next: []columnID{
			colMimo2, colSisoAntASgi, colSisoAntBSgi,
			colLegacyAntA, colLegacyAntB,
		},
	},
}

// antennaMirror maps each column to its opposite-antenna twin.  MIMO columns
// use both antennas, so they mirror to themselves.
var antennaMirror = [numColumns]columnID{
	colLegacyAntA:  colLegacyAntB,
	colLegacyAntB:  colLegacyAntA,
	colSisoAntA:    colSisoAntB,
	colSisoAntB:    colSisoAntA,
	colSisoAntASgi: colSisoAntBSgi,
	colSisoAntBSgi: colSisoAntASgi,
	colMimo2:       colMimo2,
	colMimo2Sgi:    colMimo2Sgi,
}

// streamCounterpart maps each SISO column to the MIMO column with the same
// guard variant and back again.  The bandwidth search probes a rate change
// against both the originating column and its counterpart.  Legacy columns
// have no counterpart.
var streamCounterpart = [numColumns]columnID{
	colLegacyAntA:  colInvalid,
	colLegacyAntB:  colInvalid,
	colSisoAntA:    colMimo2,
	colSisoAntB:    colMimo2,
	colSisoAntASgi: colMimo2Sgi,
	colSisoAntBSgi: colMimo2Sgi,
	colMimo2:       colSisoAntA,
	colMimo2Sgi:    colSisoAntASgi,
}

// radioSnapshot captures the antenna/coex/power facts the engine is allowed
// to consult during one evaluation.  It is taken once, at the top.
type radioSnapshot struct {
	antennaMask  int
	coexOwned    bool
	sleepAllowed bool
}

func snapshotRadio(r *radio.Radio) radioSnapshot {
	return radioSnapshot{
		antennaMask:  r.AntennaMask(),
		coexOwned:    r.CoexAntenna(),
		sleepAllowed: r.SleepAllowed(),
	}
}

// gateCtx bundles everything a gating predicate may consult.
type gateCtx struct {
	caps *wificaps.StationCaps
	chip *radio.Chip
	snap radioSnapshot
	bw   wifi.Bandwidth
}

func (col *column) checkGate(g gate, ctx *gateCtx) bool {
	switch g {
	case gateAntenna:
		mask := ctx.snap.antennaMask
		if ctx.snap.coexOwned {
			mask &= ctx.chip.NonSharedAntenna
		}
		return mask&col.antenna == col.antenna
	case gateSisoRates:
		return ctx.caps.SupportsNss(wifi.Siso, ctx.bw)
	case gateMimoRates:
		return wifi.NumChains(ctx.chip.TxChainMask) >= 2 &&
			wifi.NumChains(ctx.caps.ChainMask) >= 2 &&
			ctx.caps.SupportsNss(wifi.Mimo2, ctx.bw)
	case gateSgi:
		if ctx.caps.Mode == wifi.ModeHE {
			return ctx.caps.HeGi08 || ctx.caps.HeGi16
		}
		return ctx.caps.Sgi(ctx.bw)
	case gateBlock2xLtf:
		if ctx.caps.Mode != wifi.ModeHE {
			return true
		}
		return !ctx.chip.Block2xLtf || ctx.caps.HeGi08
	}
	return false
}

// usable returns true if every gating predicate passes for the given station
// and bandwidth.
func (col *column) usable(ctx *gateCtx) bool {
	if col.family != famLegacy && ctx.caps.Mode == wifi.ModeLegacy {
		return false
	}
	for _, g := range col.checks {
		if !col.checkGate(g, ctx) {
			return false
		}
	}
	return true
}

// guard returns the guard-interval variant rates in this column use for a
// station in the given mode.
func (col *column) guard(caps *wificaps.StationCaps) wifi.GuardInterval {
	switch {
	case caps.Mode != wifi.ModeHE:
		if col.sgi {
			return wifi.GIShort
		}
		return wifi.GILong
	case col.sgi && caps.HeGi08:
		return wifi.GIHe08
	case col.sgi:
		return wifi.GIHe16
	default:
		return wifi.GIHe32
	}
}

// nss returns the column's spatial stream count.
func (col *column) nss() int {
	if col.family == famMimo {
		return wifi.Mimo2
	}
	return wifi.Siso
}

// rateMode returns the mode rates in this column transmit in: the station's
// best mode, or legacy for the fallback columns.
func (col *column) rateMode(caps *wificaps.StationCaps) wifi.Mode {
	if col.family == famLegacy {
		return wifi.ModeLegacy
	}
	return caps.Mode
}
