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
)

// engineState is the scaling state machine's position.
type engineState int

const (
	// stateStayInColumn is the initial and steady state: fold statistics,
	// scale within the column, watch for search triggers.
	stateStayInColumn engineState = iota

	// stateSearchCycle means a column/bandwidth search cycle is running.
	stateSearchCycle

	// stateTpcSearch is the short dedicated window after transmit power
	// control engages for the first time on a stable rate.
	stateTpcSearch
)

var stateNames = map[engineState]string{
	stateStayInColumn: "stay-in-column",
	stateSearchCycle:  "search-cycle",
	stateTpcSearch:    "tpc-search",
}

func (s engineState) String() string {
	return stateNames[s]
}

// scaleAction is the within-column decision made on each evaluation.
type scaleAction int

const (
	actionStay scaleAction = iota
	actionDownscale
	actionUpscale
)

var actionNames = map[scaleAction]string{
	actionStay:      "stay",
	actionDownscale: "downscale",
	actionUpscale:   "upscale",
}

func (a scaleAction) String() string {
	return actionNames[a]
}

// Search cycle trigger limits.  A cycle starts when the cumulative success
// count crosses the success limit (an upscale attempt), or when failures
// cross the failure limit or too long has passed since the last search (a
// downscale).  MCS rates carry far more traffic per interval than legacy
// rates, so their limits are higher.
const (
	successLimitLegacy = 480
	failureLimitLegacy = 160
	successLimit       = 4500
	failureLimit       = 400

	// searchTimeout bounds how stale the current choice may get before a
	// search is forced even on a quiet link.
	searchTimeout = 5 * time.Second

	// upscaleCycleCooldown prevents back-to-back success-triggered
	// cycles from thrashing the link.
	upscaleCycleCooldown = 10 * time.Second

	// upscaleThrottle limits steady-state within-column upscales.  A
	// running search cycle is exempt.
	upscaleThrottle = 500 * time.Millisecond
)

// neighbor describes one adjacent rate in the current column, if it exists.
type neighbor struct {
	exists      bool
	win         *windowStat
	expectedTpt int
}

func (n *neighbor) tptKnown() bool {
	return n.exists && n.win.valid()
}

// getScaleAction implements the within-column policy.  All comparisons run
// on measured average throughputs; a neighbor whose window hasn't seen
// enough traffic to be trusted counts as unmeasured.
func getScaleAction(cur *windowStat, lower, higher *neighbor) scaleAction {
	// A rate that is plainly failing gets no benefit of the doubt.
	if cur.frames > 0 && cur.successRatio <= srForceDownscale {
		return actionDownscale
	}
	if !cur.valid() {
		return actionStay
	}
	if cur.averageTpt == 0 {
		return actionDownscale
	}

	lowerKnown := lower.tptKnown()
	higherKnown := higher.tptKnown()

	// With no measurement on either side, trying the higher rate is the
	// only way to learn anything.
	if !lowerKnown && !higherKnown && higher.exists {
		return actionUpscale
	}
	// The lower rate measured worse and the higher one is untried.
	if !higherKnown && lowerKnown &&
		lower.win.averageTpt < cur.averageTpt {
		return actionUpscale
	}
	if higherKnown && higher.win.averageTpt > cur.averageTpt {
		return actionUpscale
	}
	// Both neighbors measured worse: this rate is the sweet spot.
	if lowerKnown && higherKnown &&
		lower.win.averageTpt < cur.averageTpt &&
		higher.win.averageTpt < cur.averageTpt {
		return actionStay
	}

	// What remains is a candidate step down.  Hold instead while the
	// link is clean, or while the lower rate's ceiling couldn't beat
	// what this one already delivers.
	if cur.successRatio >= srNoDownscale ||
		cur.averageTpt > lower.expectedTpt {
		return actionStay
	}
	return actionDownscale
}

// searchLimits returns the cycle trigger limits for the current rate's
// family.
func searchLimits(legacy bool) (successes, failures int) {
	if legacy {
		return successLimitLegacy, failureLimitLegacy
	}
	return successLimit, failureLimit
}
