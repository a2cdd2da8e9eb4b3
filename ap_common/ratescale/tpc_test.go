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

	"bglink/common/wifi"

	"github.com/stretchr/testify/require"
)

// tpcStation puts a station into the shape the power controller requires:
// sleep permitted, the optimal rate installed, and AMSDU past its dwell.
func tpcStation(t *testing.T) (*Station, time.Time) {
	st := testStation(t)
	st.rad.SetSleepAllowed(true)

	st.col = colMimo2Sgi
	st.rate = st.buildRate(colMimo2Sgi, 9, wifi.BW80)
	st.amsdu.enabledSize = 11000
	st.amsdu.enabledAt = t0

	return st, t0.Add(10 * time.Second)
}

func checkTpc(t *testing.T, st *Station) {
	curr := st.tpc.curr
	require.True(t, curr >= tpcDisabled && curr < st.chip.TpcSteps,
		"tpc step %d out of range", curr)
	if curr < 0 {
		require.Zero(t, st.PowerReduction())
	} else {
		require.Equal(t, (curr+1)*tpcStepDb, st.PowerReduction())
	}
}

func TestTpcEngagement(t *testing.T) {
	st, now := tpcStation(t)
	snap := snapshotRadio(st.rad)

	require.True(t, st.rateOptimal())
	require.True(t, st.tpcAllowed(snap, now))

	st.tpcDecide(snap, now)
	checkTpc(t, st)
	require.Equal(t, 0, st.tpc.curr)
	require.Equal(t, tpcStepDb, st.PowerReduction())
	require.Equal(t, stateTpcSearch, st.state)
	require.True(t, st.tpc.testing)
}

func TestTpcStepping(t *testing.T) {
	st, now := tpcStation(t)
	snap := snapshotRadio(st.rad)

	st.tpcDecide(snap, now) // engages at step 0

	// Clean traffic at the step: go one deeper.  32 frames keeps the
	// first-engagement window open.
	st.tpcObserve(32, 32)
	st.tpcDecide(snap, now)
	checkTpc(t, st)
	require.Equal(t, 1, st.tpc.curr)
	require.Equal(t, stateTpcSearch, st.state)

	// Mediocre traffic at the deeper step: back off, and enough frames to
	// close the search window.
	st.tpcObserve(64, 40)
	st.tpcDecide(snap, now)
	checkTpc(t, st)
	require.Equal(t, 0, st.tpc.curr)
	require.Equal(t, stateStayInColumn, st.state)
	require.False(t, st.tpc.testing)

	// Step 1's window now holds data, so a clean step 0 may not re-enter
	// it until the windows reset.
	st.tpc.windows[0].reset()
	st.tpcObserve(64, 64)
	st.tpcDecide(snap, now)
	require.Equal(t, 0, st.tpc.curr)
}

func TestTpcCollapseDisables(t *testing.T) {
	st, now := tpcStation(t)
	snap := snapshotRadio(st.rad)

	st.tpcDecide(snap, now)
	st.tpc.testing = false
	st.state = stateStayInColumn

	// A collapsed success ratio outside the search window parks the
	// controller until the rate moves.
	st.tpcObserve(64, 2)
	st.tpcDecide(snap, now)
	checkTpc(t, st)
	require.Equal(t, tpcDisabled, st.tpc.curr)
	require.Zero(t, st.PowerReduction())

	// And it stays parked.
	st.tpcObserve(64, 64)
	st.tpcDecide(snap, now)
	require.Equal(t, tpcDisabled, st.tpc.curr)

	// Until a rate change resets it.
	st.tpcReset()
	require.Equal(t, tpcInactive, st.tpc.curr)
}

func TestTpcCollapseDuringSearchBacksOff(t *testing.T) {
	st, now := tpcStation(t)
	snap := snapshotRadio(st.rad)

	st.tpcDecide(snap, now)
	require.True(t, st.tpc.testing)

	// Inside the first-engagement window a collapse just retreats.
	st.tpcObserve(32, 1)
	st.tpcDecide(snap, now)
	require.Equal(t, tpcInactive, st.tpc.curr)
}

func TestTpcGating(t *testing.T) {
	st, now := tpcStation(t)
	snap := snapshotRadio(st.rad)

	// Sleep not allowed: never engages.
	st.rad.SetSleepAllowed(false)
	require.False(t, st.tpcAllowed(snapshotRadio(st.rad), now))
	st.rad.SetSleepAllowed(true)

	// Sub-optimal rate: never engages.
	st.col = colSisoAntA
	st.rate = st.buildRate(colSisoAntA, 11, wifi.BW80)
	require.False(t, st.tpcAllowed(snap, now))
	st.col = colMimo2Sgi
	st.rate = st.buildRate(colMimo2Sgi, 9, wifi.BW80)
	require.True(t, st.tpcAllowed(snap, now))

	// A running search cycle blocks it.
	st.state = stateSearchCycle
	require.False(t, st.tpcAllowed(snap, now))
	st.state = stateStayInColumn

	// A rate that just moved blocks it.
	st.lastAction = actionUpscale
	require.False(t, st.tpcAllowed(snap, now))
	st.lastAction = actionStay

	// AMSDU enabled too recently blocks it.
	require.False(t, st.tpcAllowed(snap, t0.Add(time.Second)))

	// Losing the allowance mid-engagement gives the power back.
	st.tpcDecide(snap, now)
	require.Equal(t, 0, st.tpc.curr)
	st.rad.SetSleepAllowed(false)
	st.tpcDecide(snapshotRadio(st.rad), now)
	require.Equal(t, tpcInactive, st.tpc.curr)
	require.Equal(t, stateStayInColumn, st.state)
}
