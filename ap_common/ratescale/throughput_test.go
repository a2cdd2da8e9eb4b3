/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package ratescale

import (
	"testing"

	"bglink/common/wifi"

	"github.com/stretchr/testify/require"
)

func TestLegacyTptMonotonic(t *testing.T) {
	// OFDM rates must be strictly ordered; CCK rates pay a preamble
	// penalty, so only compare within the family.
	prev := 0
	for i, r := range wifi.LegacyRates {
		if r.Cck {
			continue
		}
		tpt := expectedTptLegacy(i)
		require.True(t, tpt > prev, "rate %d not above %d", i, prev)
		prev = tpt
	}
}

func TestCckPreamblePenalty(t *testing.T) {
	// 11Mbps CCK (idx 5) must deliver less than 9Mbps OFDM would suggest
	// relative to raw rate: it lands below 12Mbps OFDM (idx 6) by more
	// than the PHY gap alone.
	cck := expectedTptLegacy(5)
	ofdm := expectedTptLegacy(6)
	require.True(t, cck < ofdm)
	require.True(t, cck < macTpt(110, false))
}

func TestMcsTptMonotonic(t *testing.T) {
	for _, mode := range []wifi.Mode{wifi.ModeHT, wifi.ModeVHT, wifi.ModeHE} {
		gi := wifi.GILong
		if mode == wifi.ModeHE {
			gi = wifi.GIHe32
		}
		for bw := wifi.BW20; bw < wifi.NumBandwidths; bw++ {
			for nss := wifi.Siso; nss <= wifi.Mimo2; nss++ {
				prev := 0
				for mcs := 0; mcs <= wifi.MaxMcs(mode); mcs++ {
					tpt := expectedTptMcs(mode, true, bw,
						gi, nss, mcs, false, false)
					require.True(t, tpt > prev,
						"%v/%v/%dss mcs%d: %d <= %d",
						mode, bw, nss, mcs, tpt, prev)
					prev = tpt
				}
			}
		}
	}
}

func TestAggregationDominates(t *testing.T) {
	// Without aggregation everything flattens near the saturation point;
	// with it, a fast rate must deliver far more.
	noAgg := expectedTptMcs(wifi.ModeHE, false, wifi.BW80, wifi.GIHe32,
		wifi.Mimo2, 11, false, false)
	agg := expectedTptMcs(wifi.ModeHE, true, wifi.BW80, wifi.GIHe32,
		wifi.Mimo2, 11, false, false)
	require.True(t, noAgg < satNoAgg)
	require.True(t, agg > 4*noAgg)
}

func TestWiderAndShorterIsFaster(t *testing.T) {
	base := expectedTptMcs(wifi.ModeVHT, true, wifi.BW40, wifi.GILong,
		wifi.Siso, 5, false, false)
	wider := expectedTptMcs(wifi.ModeVHT, true, wifi.BW80, wifi.GILong,
		wifi.Siso, 5, false, false)
	sgi := expectedTptMcs(wifi.ModeVHT, true, wifi.BW40, wifi.GIShort,
		wifi.Siso, 5, false, false)
	require.True(t, wider > base)
	require.True(t, sgi > base)
}

func TestDcmAndErPenalties(t *testing.T) {
	full := expectedTptMcs(wifi.ModeHE, true, wifi.BW20, wifi.GIHe32,
		wifi.Siso, 2, false, false)
	dcm := expectedTptMcs(wifi.ModeHE, true, wifi.BW20, wifi.GIHe32,
		wifi.Siso, 2, true, false)
	er := expectedTptMcs(wifi.ModeHE, true, wifi.BW20, wifi.GIHe32,
		wifi.Siso, 2, false, true)
	require.Equal(t, full/2, dcm)
	require.Equal(t, full/4, er)
}

func TestBadLookupsPanic(t *testing.T) {
	require.Panics(t, func() { expectedTptLegacy(12) })
	require.Panics(t, func() {
		expectedTptMcs(wifi.ModeHT, false, wifi.BW20, wifi.GILong,
			wifi.Siso, 8, false, false)
	})
	require.Panics(t, func() {
		expectedTptMcs(wifi.ModeHT, false, wifi.BW20, wifi.GIHe32,
			wifi.Siso, 3, false, false)
	})
	require.Panics(t, func() {
		expectedTptMcs(wifi.ModeVHT, false, wifi.BW20, wifi.GILong,
			wifi.Siso, 3, true, false)
	})
}

func TestPhyRate10(t *testing.T) {
	var r rateDesc
	r.ResetMode(wifi.ModeHE)
	r.SetIndex(7)
	r.SetBandwidth(wifi.BW80)
	r.SetGuard(wifi.GIHe32)
	r.SetAntenna(wifi.AntennaA)
	r.SetNss(wifi.Siso)

	// 86Mbps base, x4.5 for 80MHz, x0.85 for the 3.2us guard.
	require.Equal(t, 860*450/100*85/100, phyRate10(&r))

	r.SetNss(wifi.Mimo2)
	require.Equal(t, 2*(860*450/100*85/100), phyRate10(&r))
}
