/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package wifi

import "fmt"

// Names of the frequency bands.
const (
	LoBand = "2.4GHz"
	HiBand = "5GHz"
)

// Channels is a map of per-band arrays of valid 20MHz channel lists, which are
// legal for the US.  We will need to ship per-country lists, presumably indexed
// by regulatory domain.
var Channels = map[string][]int{
	LoBand: {1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	HiBand: {36, 40, 44, 48, 52, 56, 60, 64, 100, 104, 108,
		112, 116, 120, 124, 128, 132, 136, 140, 144, 149, 153,
		157, 161, 165},
}

// Mode identifies the PHY generation a rate belongs to.  The zero value is
// deliberately invalid, so an unset mode can be detected.
type Mode int

// Supported PHY modes, oldest first.
const (
	ModeInvalid Mode = iota
	ModeLegacy       // 802.11a/b/g
	ModeHT           // 802.11n
	ModeVHT          // 802.11ac
	ModeHE           // 802.11ax
)

var modeNames = map[Mode]string{
	ModeLegacy: "legacy",
	ModeHT:     "ht",
	ModeVHT:    "vht",
	ModeHE:     "he",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Valid returns true for any mode other than the unset zero value.
func (m Mode) Valid() bool {
	return m >= ModeLegacy && m <= ModeHE
}

// Bandwidth is a channel width.  The values are ordered so they can index
// static tables and be stepped up or down one width at a time.
type Bandwidth int

// Channel widths, narrowest first.
const (
	BW20 Bandwidth = iota
	BW40
	BW80
	BW160

	NumBandwidths = 4
)

var bandwidthMHz = [NumBandwidths]int{20, 40, 80, 160}

// MHz returns the width in MHz.
func (b Bandwidth) MHz() int {
	return bandwidthMHz[b]
}

func (b Bandwidth) String() string {
	return fmt.Sprintf("%dMHz", b.MHz())
}

// Valid returns true if the bandwidth is one of the defined widths.
func (b Bandwidth) Valid() bool {
	return b >= BW20 && b < NumBandwidths
}

// Narrower returns the next narrower width and true, or the receiver and
// false if already at 20MHz.
func (b Bandwidth) Narrower() (Bandwidth, bool) {
	if b == BW20 {
		return b, false
	}
	return b - 1, true
}

// Wider returns the next wider width and true, or the receiver and false if
// already at 160MHz.
func (b Bandwidth) Wider() (Bandwidth, bool) {
	if b == BW160 {
		return b, false
	}
	return b + 1, true
}

// GuardInterval selects the symbol guard time.  HT and VHT rates use the
// long/short pair; HE rates use one of the three LTF/GI combinations.
type GuardInterval int

// Guard interval variants.
const (
	GILong  GuardInterval = iota // 0.8us, HT/VHT
	GIShort                      // 0.4us, HT/VHT
	GIHe32                       // 4x LTF + 3.2us
	GIHe16                       // 2x LTF + 1.6us
	GIHe08                       // 1x LTF + 0.8us

	NumGuardIntervals = 5
)

var giNames = [NumGuardIntervals]string{"lgi", "sgi", "he-3.2us", "he-1.6us", "he-0.8us"}

func (g GuardInterval) String() string {
	if g >= 0 && g < NumGuardIntervals {
		return giNames[g]
	}
	return fmt.Sprintf("gi(%d)", int(g))
}

// He returns true for the HE LTF/GI variants.
func (g GuardInterval) He() bool {
	return g == GIHe32 || g == GIHe16 || g == GIHe08
}

// Antenna masks.  The radios we drive have at most two chains.
const (
	AntennaA  = 0x1
	AntennaB  = 0x2
	AntennaAB = AntennaA | AntennaB
)

// NumChains counts the antennas enabled in a mask.
func NumChains(mask int) int {
	count := 0
	for m := mask; m != 0; m >>= 1 {
		count += m & 1
	}
	return count
}

var antennaNames = map[int]string{
	AntennaA:  "A",
	AntennaB:  "B",
	AntennaAB: "AB",
}

// AntennaName renders an antenna mask as "A", "B", or "AB".
func AntennaName(mask int) string {
	if n, ok := antennaNames[mask]; ok {
		return n
	}
	return fmt.Sprintf("ant(%#x)", mask)
}

// Per-stream MCS index bounds for each mode.
const (
	MaxMcsHT  = 7
	MaxMcsVHT = 9
	MaxMcsHE  = 11
)

// MaxMcs returns the highest per-stream MCS index for non-legacy modes, or
// -1 for legacy.
func MaxMcs(m Mode) int {
	switch m {
	case ModeHT:
		return MaxMcsHT
	case ModeVHT:
		return MaxMcsVHT
	case ModeHE:
		return MaxMcsHE
	}
	return -1
}

// Spatial stream counts the hardware supports.
const (
	Siso  = 1
	Mimo2 = 2
)

// NumTids is the number of traffic identifiers carried per station.
const NumTids = 8

// LegacyRate describes one non-HT rate.
type LegacyRate struct {
	Mbps10 int  // rate in units of 100kbps: 55 means 5.5Mbps
	Cck    bool // CCK modulation; illegal in the 5GHz band
}

// LegacyRates lists the 802.11a/b/g rates in ascending rate order.  Legacy
// rate "index" values elsewhere index this table.
var LegacyRates = []LegacyRate{
	{10, true},   // 1Mbps
	{20, true},   // 2Mbps
	{55, true},   // 5.5Mbps
	{60, false},  // 6Mbps
	{90, false},  // 9Mbps
	{110, true},  // 11Mbps
	{120, false}, // 12Mbps
	{180, false}, // 18Mbps
	{240, false}, // 24Mbps
	{360, false}, // 36Mbps
	{480, false}, // 48Mbps
	{540, false}, // 54Mbps
}

// NumLegacyRates is the size of the legacy rate table.
var NumLegacyRates = len(LegacyRates)

// LegacyRateLegal reports whether the legacy rate at idx may be used in the
// given band.  CCK rates exist only at 2.4GHz.
func LegacyRateLegal(idx int, band string) bool {
	if idx < 0 || idx >= NumLegacyRates {
		return false
	}
	return band == LoBand || !LegacyRates[idx].Cck
}

// LegacyRateLower returns the index of the next lower legal legacy rate in
// the given band which is also present in the supported bitmap, or -1 if
// there is none.
func LegacyRateLower(idx int, band string, supported uint16) int {
	for i := idx - 1; i >= 0; i-- {
		if LegacyRateLegal(i, band) && supported&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

// LowestLegacyRate returns the index of the lowest legal supported legacy
// rate in the band, or -1 if the bitmap has no legal rates for the band.
func LowestLegacyRate(band string, supported uint16) int {
	for i := 0; i < NumLegacyRates; i++ {
		if LegacyRateLegal(i, band) && supported&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

// HighestLegacyRate returns the index of the highest legal supported legacy
// rate in the band, or -1 if the bitmap has no legal rates for the band.
func HighestLegacyRate(band string, supported uint16) int {
	for i := NumLegacyRates - 1; i >= 0; i-- {
		if LegacyRateLegal(i, band) && supported&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

// HighestBasicRate returns the index of the highest legal supported legacy
// rate no faster than maxMbps10, falling back to the lowest legal supported
// rate if every legal rate is faster.
func HighestBasicRate(band string, supported uint16, maxMbps10 int) int {
	best := -1
	for i := 0; i < NumLegacyRates; i++ {
		if !LegacyRateLegal(i, band) || supported&(1<<uint(i)) == 0 {
			continue
		}
		if LegacyRates[i].Mbps10 <= maxMbps10 {
			best = i
		}
	}
	if best == -1 {
		best = LowestLegacyRate(band, supported)
	}
	return best
}
