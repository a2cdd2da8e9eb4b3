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
	"time"

	"bglink/ap_common/radio"
	"bglink/ap_common/wificaps"
	"bglink/common/wifi"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRateTableShape(t *testing.T) {
	st := testStation(t)
	cmd := st.RateTable()

	require.True(t, len(cmd.Rows) > stableRepeats)
	require.True(t, len(cmd.Rows) <= maxRetryRows)
	require.Equal(t, defaultAggDuration, cmd.AggDuration)
	require.Equal(t, defaultAggFrames, cmd.AggFrameLimit)
	require.Zero(t, cmd.PowerReduction)

	stable := st.rate.Snapshot()
	for i := 0; i < stableRepeats; i++ {
		require.Equal(t, stable, cmd.Rows[i].Rate)
		require.Equal(t, rateTryCount, cmd.Rows[i].Tries)
	}

	// Next a narrower copy of the stable rate.
	narrow := cmd.Rows[stableRepeats].Rate
	require.Equal(t, stable.Mode, narrow.Mode)
	require.Equal(t, stable.Bandwidth-1, narrow.Bandwidth)

	// Then legacy fallbacks, descending, none above the ceiling, each
	// protected by RTS in this mixed table.
	prev := -1
	for _, row := range cmd.Rows[stableRepeats+1:] {
		require.Equal(t, wifi.ModeLegacy, row.Rate.Mode)
		require.Equal(t, wifi.BW20, row.Rate.Bandwidth)
		require.True(t, row.Rts)

		mbps10 := wifi.LegacyRates[row.Rate.Index].Mbps10
		require.True(t, mbps10 <= legacyFallbackCeiling)
		if prev != -1 {
			require.True(t, row.Rate.Index < prev)
		}
		prev = row.Rate.Index
	}
	require.NotEqual(t, -1, prev, "no legacy fallbacks")
}

func TestRateTableIdempotent(t *testing.T) {
	st := testStation(t)
	st.HandleTxStatistics(allGood(100), t0.Add(time.Second))

	first := st.RateTable()
	second := st.RateTable()
	require.Equal(t, first, second)
}

func TestRateTableProbeRowFirst(t *testing.T) {
	st := testStation(t)
	st.state = stateSearchCycle
	st.search = searchData{originCol: st.col}
	st.installProbe(colSisoAntB, 5, wifi.BW80)

	cmd := st.RateTable()
	require.Equal(t, st.search.rate.Snapshot(), cmd.Rows[0].Rate)
	require.Equal(t, st.rate.Snapshot(), cmd.Rows[1].Rate)

	// The probe row takes the narrower copy's place.
	require.Equal(t, st.rate.Snapshot(), cmd.Rows[stableRepeats].Rate)
	require.Equal(t, wifi.ModeLegacy, cmd.Rows[stableRepeats+1].Rate.Mode)
}

func TestRateTableAntennaToggle(t *testing.T) {
	st := testStation(t)
	require.True(t, st.chip.ToggleAntenna)

	cmd := st.RateTable()
	var legacy []RetryRow
	for _, row := range cmd.Rows {
		if row.Rate.Mode == wifi.ModeLegacy {
			legacy = append(legacy, row)
		}
	}
	require.True(t, len(legacy) >= 2)
	for i := 1; i < len(legacy); i++ {
		require.NotEqual(t, legacy[i-1].Rate.Antenna,
			legacy[i].Rate.Antenna)
	}

	// With one antenna in hand the toggle stops.
	st.rad.SetAntennaMask(wifi.AntennaA)
	st.snap = snapshotRadio(st.rad)
	cmd = st.RateTable()
	for _, row := range cmd.Rows {
		if row.Rate.Mode == wifi.ModeLegacy {
			require.Equal(t, legacy[0].Rate.Antenna, row.Rate.Antenna)
		}
	}
}

func TestRateTableAmsduRts(t *testing.T) {
	st := testStation(t)
	st.amsdu.enabledSize = 8000

	cmd := st.RateTable()
	for i := 0; i < stableRepeats; i++ {
		require.True(t, cmd.Rows[i].Rts)
	}
}

func TestRateTablePowerReduction(t *testing.T) {
	st := testStation(t)
	st.tpc.curr = 1

	cmd := st.RateTable()
	require.Equal(t, 2*tpcStepDb, cmd.PowerReduction)
}

func TestLegacyOnlyTableHasNoRts(t *testing.T) {
	chip, err := radio.ChipByName("mt7603")
	require.NoError(t, err)
	st := New(radio.NewRadio(chip), zaptest.NewLogger(t).Sugar())

	caps := &wificaps.StationCaps{
		Mode:         wifi.ModeLegacy,
		Band:         wifi.LoBand,
		MaxBandwidth: wifi.BW20,
		ChainMask:    wifi.AntennaA,
		LegacyRates:  0x0fff,
	}
	require.NoError(t, st.Configure(caps, t0))

	cmd := st.RateTable()
	require.NotEmpty(t, cmd.Rows)
	for _, row := range cmd.Rows {
		require.Equal(t, wifi.ModeLegacy, row.Rate.Mode)
		require.False(t, row.Rts)
	}
}
