/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package ratescale

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func checkWindow(t *testing.T, w *windowStat, capacity int) {
	require.True(t, w.frames >= 0 && w.frames <= capacity)
	require.True(t, w.success >= 0 && w.success <= w.frames)
	if w.frames == 0 {
		require.Equal(t, invalidStat, w.successRatio)
		require.Equal(t, invalidStat, w.averageTpt)
	} else {
		require.True(t, w.successRatio >= 0 && w.successRatio <= srScale)
	}
}

func TestWindowFold(t *testing.T) {
	var w windowStat
	w.reset()
	checkWindow(t, &w, maxWindow)

	w.fold(10, 8, maxWindow, 1000)
	require.Equal(t, 10, w.frames)
	require.Equal(t, 8, w.success)
	require.Equal(t, 8*srScale/10, w.successRatio)
	require.True(t, w.valid()) // 8 successes meets the minimum
	require.Equal(t, w.successRatio*1000/srScale, w.averageTpt)
}

func TestWindowBigBatchDiscardsHistory(t *testing.T) {
	var w windowStat
	w.reset()

	w.fold(100, 100, maxWindow, 1000)
	// A batch at least as large as the window replaces it outright.
	w.fold(512, 128, maxWindow, 1000)
	require.Equal(t, maxWindow, w.frames)
	require.Equal(t, srScale/4, w.successRatio)
}

func TestWindowShrinksProportionally(t *testing.T) {
	var w windowStat
	w.reset()

	w.fold(200, 200, maxWindow, 1000)
	w.fold(100, 0, maxWindow, 1000)
	checkWindow(t, &w, maxWindow)
	require.Equal(t, maxWindow, w.frames)

	// 156 of the old successes kept plus 100 failures.
	require.Equal(t, 156, w.success)
}

func TestWindowValidity(t *testing.T) {
	var w windowStat
	w.reset()
	require.False(t, w.valid())

	// Too few successes and too few failures to mean anything.
	w.fold(5, 4, maxWindow, 1000)
	require.False(t, w.valid())
	require.True(t, w.successRatio >= 0)

	// Enough failures prove the rate isn't working even with few frames.
	w.reset()
	w.fold(4, 1, maxWindow, 1000)
	require.True(t, w.valid())
}

func TestWindowZeroExpectedTpt(t *testing.T) {
	var w windowStat
	w.reset()
	w.fold(64, 64, maxWindow, 0)
	require.True(t, w.valid())
	require.Zero(t, w.averageTpt)
}

func TestWindowFoldFuzz(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, capacity := range []int{maxWindowLegacy, maxWindow} {
		var w windowStat
		w.reset()
		for i := 0; i < 10000; i++ {
			attempted := rng.Intn(2 * capacity)
			acked := 0
			if attempted > 0 {
				acked = rng.Intn(attempted + 1)
			}
			w.fold(attempted, acked, capacity, rng.Intn(5000))
			checkWindow(t, &w, capacity)
		}
	}
}
