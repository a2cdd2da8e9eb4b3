/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


// Package wificaps carries the normalized transmit capabilities of an
// associated station.  The driver shim parses the HT/VHT/HE information
// elements from the association exchange and hands us one of these; the rate
// engine never sees raw IEs.
package wificaps

import (
	"fmt"

	"bglink/ap_common/radio"
	"bglink/common/wifi"

	"github.com/pkg/errors"
)

// StationCaps is an immutable snapshot of what one station can receive.  A
// reconfiguration replaces the whole structure; nothing ever updates a field
// in place.
type StationCaps struct {
	Mode         wifi.Mode      // best mode the station supports
	Band         string         // band this association lives on
	MaxBandwidth wifi.Bandwidth // widest channel the station accepts
	ChainMask    int            // station receive chains

	// LegacyRates is a bitmap over wifi.LegacyRates of the non-HT rates
	// the station supports.  It must be non-empty even for HE stations;
	// the retry table bottoms out on legacy rates.
	LegacyRates uint16

	// McsSupport[nss-1][bw] is the bitmap of per-stream MCS indexes the
	// station supports at that stream count and width.
	McsSupport [2][wifi.NumBandwidths]uint16

	Stbc bool
	Ldpc bool

	// SgiSupport[bw] reports short guard interval support per width
	// (HT/VHT modes only).
	SgiSupport [wifi.NumBandwidths]bool

	// HE guard variants: 1x LTF + 0.8us and 2x LTF + 1.6us.  The 4x LTF
	// variant is mandatory and has no flag.
	HeGi08 bool
	HeGi16 bool

	Dcm           bool // dual carrier modulation (HE, half rate)
	ExtendedRange bool // HE extended-range SU PPDU

	MaxMpduLen  int // bytes
	MaxAmsduLen int // bytes; 0 means the station takes no AMSDUs
}

// SupportsMcs reports whether the station accepts the given per-stream MCS
// at the given stream count and width.
func (c *StationCaps) SupportsMcs(nss int, bw wifi.Bandwidth, mcs int) bool {
	if nss < wifi.Siso || nss > wifi.Mimo2 || !bw.Valid() {
		return false
	}
	if mcs < 0 || mcs > wifi.MaxMcs(c.Mode) {
		return false
	}
	return c.McsSupport[nss-1][bw]&(1<<uint(mcs)) != 0
}

// SupportsNss reports whether any MCS is supported at the given stream count
// and width.
func (c *StationCaps) SupportsNss(nss int, bw wifi.Bandwidth) bool {
	if nss < wifi.Siso || nss > wifi.Mimo2 || !bw.Valid() {
		return false
	}
	return c.McsSupport[nss-1][bw] != 0
}

// HighestMcs returns the highest supported per-stream MCS at the given
// stream count and width, or -1 if none.
func (c *StationCaps) HighestMcs(nss int, bw wifi.Bandwidth) int {
	if nss < wifi.Siso || nss > wifi.Mimo2 || !bw.Valid() {
		return -1
	}
	for mcs := wifi.MaxMcs(c.Mode); mcs >= 0; mcs-- {
		if c.McsSupport[nss-1][bw]&(1<<uint(mcs)) != 0 {
			return mcs
		}
	}
	return -1
}

// Sgi reports short-guard support at a width, in whichever flavor the
// station's best mode uses.
func (c *StationCaps) Sgi(bw wifi.Bandwidth) bool {
	if c.Mode == wifi.ModeHE {
		return c.HeGi08 || c.HeGi16
	}
	return bw.Valid() && c.SgiSupport[bw]
}

func (c *StationCaps) String() string {
	return fmt.Sprintf("%v/%v/%v ant=%s legacy=%#x siso=%#x mimo=%#x",
		c.Mode, c.Band, c.MaxBandwidth, wifi.AntennaName(c.ChainMask),
		c.LegacyRates, c.McsSupport[0][c.MaxBandwidth],
		c.McsSupport[1][c.MaxBandwidth])
}

// Validate checks a descriptor against the radio chip it would be used with.
// A descriptor that fails validation must be discarded in its entirety; the
// station keeps whatever configuration it had before.
func (c *StationCaps) Validate(chip *radio.Chip) error {
	if !c.Mode.Valid() {
		return errors.Errorf("invalid mode %d", int(c.Mode))
	}
	if c.Mode > chip.MaxMode {
		return errors.Errorf("%v exceeds chip's best mode %v",
			c.Mode, chip.MaxMode)
	}
	maxBw, ok := chip.MaxBandwidth[c.Band]
	if !ok {
		return errors.Errorf("chip doesn't operate in %s", c.Band)
	}
	if !c.MaxBandwidth.Valid() {
		return errors.Errorf("invalid bandwidth %d", int(c.MaxBandwidth))
	}
	if c.MaxBandwidth > maxBw {
		return errors.Errorf("%v exceeds chip's %v in %s",
			c.MaxBandwidth, maxBw, c.Band)
	}

	if c.ChainMask == 0 {
		return errors.New("empty chain mask")
	}
	if c.ChainMask&^chip.TxChainMask != 0 {
		return errors.Errorf("chain mask %#x outside chip mask %#x",
			c.ChainMask, chip.TxChainMask)
	}

	if wifi.LowestLegacyRate(c.Band, c.LegacyRates) == -1 {
		return errors.Errorf("no legal legacy rate in %s", c.Band)
	}

	dualChip := wifi.NumChains(chip.TxChainMask) >= 2
	if c.Stbc && !dualChip {
		return errors.New("STBC requires two transmit chains")
	}
	if c.Dcm && !dualChip {
		return errors.New("DCM requires two transmit chains")
	}

	if c.Mode != wifi.ModeHE {
		if c.HeGi08 || c.HeGi16 || c.Dcm || c.ExtendedRange {
			return errors.Errorf("HE flags on a %v station", c.Mode)
		}
	}

	if c.SupportsNss(wifi.Mimo2, wifi.BW20) &&
		wifi.NumChains(c.ChainMask) < 2 {
		return errors.New("MIMO rates claimed with one receive chain")
	}

	if c.Mode != wifi.ModeLegacy && c.McsSupport[0][wifi.BW20] == 0 {
		return errors.Errorf("%v station with no 20MHz SISO rates", c.Mode)
	}

	for bw := wifi.BW20; bw < wifi.NumBandwidths; bw++ {
		if bw > c.MaxBandwidth && (c.McsSupport[0][bw] != 0 ||
			c.McsSupport[1][bw] != 0) {
			return errors.Errorf("MCS rates at %v beyond max width %v",
				bw, c.MaxBandwidth)
		}
	}

	return nil
}
