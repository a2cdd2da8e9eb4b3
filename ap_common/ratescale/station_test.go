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

var t0 = time.Unix(1000000, 0)

func heCaps() *wificaps.StationCaps {
	caps := &wificaps.StationCaps{
		Mode:         wifi.ModeHE,
		Band:         wifi.HiBand,
		MaxBandwidth: wifi.BW80,
		ChainMask:    wifi.AntennaAB,
		LegacyRates:  0x0ff8, // OFDM 6..54
		Stbc:         true,
		Ldpc:         true,
		HeGi08:       true,
		HeGi16:       true,
		MaxMpduLen:   3895,
		MaxAmsduLen:  11454,
	}
	for bw := wifi.BW20; bw <= wifi.BW80; bw++ {
		caps.McsSupport[0][bw] = 0x0fff
		caps.McsSupport[1][bw] = 0x0fff
	}
	return caps
}

func testRadio(t *testing.T) *radio.Radio {
	chip, err := radio.ChipByName("mt7915")
	require.NoError(t, err)
	return radio.NewRadio(chip)
}

func testStation(t *testing.T) *Station {
	st := New(testRadio(t), zaptest.NewLogger(t).Sugar())
	require.NoError(t, st.Configure(heCaps(), t0))
	return st
}

func allGood(n int) TxStats {
	return TxStats{Attempted: n, Acked: n, TrafficLoad: n}
}

func TestInitialRate(t *testing.T) {
	st := testStation(t)

	r := st.rate.Snapshot()
	require.Equal(t, wifi.ModeHE, r.Mode)
	require.Equal(t, initialMcs, r.Index)
	require.Equal(t, wifi.BW80, r.Bandwidth)
	require.Equal(t, wifi.Siso, r.Nss)
	require.Equal(t, stateStayInColumn, st.state)
}

func TestConfigureRejectionKeepsState(t *testing.T) {
	st := testStation(t)
	before := st.rate.Snapshot()

	bad := heCaps()
	bad.ChainMask = 0
	require.Error(t, st.Configure(bad, t0))

	require.True(t, st.Enabled())
	require.Equal(t, before, st.rate.Snapshot())
}

func TestDisabledStationIgnoresInput(t *testing.T) {
	st := New(testRadio(t), zaptest.NewLogger(t).Sugar())
	st.HandleTxStatistics(allGood(100), t0)
	require.Zero(t, st.CountersSnapshot().Evaluations)
}

func TestZeroBatchIsNoop(t *testing.T) {
	st := testStation(t)
	st.HandleTxStatistics(TxStats{}, t0)
	st.HandleTxStatistics(TxStats{Attempted: 50, Acked: 50, NullData: true}, t0)
	require.Zero(t, st.CountersSnapshot().Evaluations)
}

// A fresh HE station with every frame acked crosses the success limit and
// starts an upscale search cycle, moving MCS 3 to MCS 4.
func TestUpscaleCycle(t *testing.T) {
	st := testStation(t)

	now := t0
	for i := 0; i < 3; i++ {
		now = now.Add(100 * time.Millisecond)
		st.HandleTxStatistics(allGood(1600), now)
	}

	require.Equal(t, stateSearchCycle, st.state)
	require.Equal(t, initialMcs+1, st.rate.Index())
	require.Equal(t, uint64(1), st.CountersSnapshot().SearchCycles)

	cmd, _ := st.Commands()
	require.NotNil(t, cmd)
	require.Equal(t, initialMcs+1, cmd.Rows[0].Rate.Index)
}

// A 10% success ratio forces a downscale and the retry table's first row
// moves to the lower MCS.
func TestForcedDownscale(t *testing.T) {
	st := testStation(t)

	st.HandleTxStatistics(TxStats{Attempted: 20, Acked: 2},
		t0.Add(50*time.Millisecond))

	require.Equal(t, actionDownscale, st.lastAction)
	require.Equal(t, initialMcs-1, st.rate.Index())

	cmd, _ := st.Commands()
	require.NotNil(t, cmd)
	require.Equal(t, initialMcs-1, cmd.Rows[0].Rate.Index)
}

func TestSteadyStateUpscaleThrottle(t *testing.T) {
	st := testStation(t)

	// Two quick clean batches: the first eval can't upscale (throttle
	// starts at Configure), and the second is still inside the window.
	st.HandleTxStatistics(allGood(100), t0.Add(100*time.Millisecond))
	st.HandleTxStatistics(allGood(100), t0.Add(200*time.Millisecond))
	require.Equal(t, initialMcs, st.rate.Index())

	// Past the throttle the upscale goes through.
	st.HandleTxStatistics(allGood(100), t0.Add(800*time.Millisecond))
	require.Equal(t, initialMcs+1, st.rate.Index())
}

func TestFixedRateOverride(t *testing.T) {
	st := testStation(t)

	fixed := Rate{
		Mode:      wifi.ModeHE,
		Index:     7,
		Bandwidth: wifi.BW40,
		Guard:     wifi.GIHe32,
		Antenna:   wifi.AntennaA,
		Nss:       wifi.Siso,
	}
	st.SetFixedRate(&fixed)

	cmd, _ := st.Commands()
	require.NotNil(t, cmd)
	require.Equal(t, fixed, cmd.Rows[0].Rate)

	// Statistics no longer move the rate.
	st.HandleTxStatistics(TxStats{Attempted: 50, Acked: 1},
		t0.Add(time.Second))
	require.Equal(t, fixed, *st.FixedRate())
	require.Equal(t, fixed, st.RateTable().Rows[0].Rate)

	st.SetFixedRate(nil)
	require.Nil(t, st.FixedRate())
}

func TestStickyConfigSurvivesReconfigure(t *testing.T) {
	st := testStation(t)

	fixed := Rate{
		Mode:      wifi.ModeHE,
		Index:     5,
		Bandwidth: wifi.BW20,
		Guard:     wifi.GIHe32,
		Antenna:   wifi.AntennaA,
		Nss:       wifi.Siso,
	}
	st.SetFixedRate(&fixed)
	st.SetAggDuration(2 * time.Millisecond)

	require.NoError(t, st.Configure(heCaps(), t0.Add(time.Minute)))
	require.NotNil(t, st.FixedRate())
	require.Equal(t, 2*time.Millisecond, st.aggDuration)
}

func TestSearchCycleTermination(t *testing.T) {
	st := testStation(t)

	// Drive a clean link for a long time; every cycle must end with the
	// visited set cleared, and the engine must keep making progress
	// without ever revisiting a column within a cycle.
	now := t0
	prevVisited := uint16(0)
	for i := 0; i < 200; i++ {
		now = now.Add(150 * time.Millisecond)
		st.HandleTxStatistics(allGood(1200), now)

		if st.state == stateSearchCycle {
			// Visited never shrinks while the cycle runs.
			if prevVisited != 0 {
				require.Equal(t, prevVisited,
					prevVisited&st.visited)
			}
			prevVisited = st.visited
		} else {
			require.Zero(t, st.visited)
			prevVisited = 0
		}
	}

	// A clean link must have climbed well past the initial rate.
	require.True(t, st.rate.Index() > initialMcs)
}

func TestProbeCommit(t *testing.T) {
	st := testStation(t)

	// Give the current rate a mediocre measured throughput.
	st.windows[st.rate.Index()].fold(200, 150, maxWindow,
		st.expectedRateTpt(st.col, wifi.BW80, st.rate.Index()))

	st.state = stateSearchCycle
	st.search = searchData{originCol: st.col}
	st.visited = 1 << uint(st.col)
	st.installProbe(colSisoAntB, 5, wifi.BW80)
	require.True(t, st.search.active)

	// The probe measures clean; it must be committed.  (The cycle may
	// immediately install the next probe; the stable rate is what moved.)
	st.HandleTxStatistics(allGood(200), t0.Add(100*time.Millisecond))

	require.Equal(t, colSisoAntB, st.col)
	require.Equal(t, 5, st.rate.Index())
	require.Equal(t, uint64(1), st.CountersSnapshot().ProbesCommitted)
	require.NotZero(t, st.visited&(1<<uint(colSisoAntB)))
}

func TestProbeRevert(t *testing.T) {
	st := testStation(t)
	origCol := st.col

	st.windows[st.rate.Index()].fold(200, 190, maxWindow,
		st.expectedRateTpt(st.col, wifi.BW80, st.rate.Index()))

	st.state = stateSearchCycle
	st.search = searchData{originCol: st.col}
	st.visited = 1 << uint(st.col)
	st.installProbe(colSisoAntB, 5, wifi.BW80)

	// The probe fails outright.
	st.HandleTxStatistics(TxStats{Attempted: 200, Acked: 10},
		t0.Add(100*time.Millisecond))

	require.Equal(t, origCol, st.col)
	require.Equal(t, initialMcs, st.rate.Index())
	require.Equal(t, uint64(1), st.CountersSnapshot().ProbesReverted)
}
