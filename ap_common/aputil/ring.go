/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package aputil

import (
	"time"
)

// RateAccumulator tracks how many events occurred over a fixed trailing
// period, using a ring of equal-width buckets.  Time is always passed in
// explicitly, so callers driven from a hardware notification can use the
// notification's own timestamp.
type RateAccumulator struct {
	buckets  []int
	width    time.Duration
	origin   time.Time // start of the current head bucket
	head     int       // bucket being filled
	advanced int       // buckets rotated since reset, capped at len(buckets)
}

// NewRateAccumulator returns an accumulator covering the given period with
// the given number of buckets.
func NewRateAccumulator(period time.Duration, buckets int) *RateAccumulator {
	return &RateAccumulator{
		buckets: make([]int, buckets),
		width:   period / time.Duration(buckets),
	}
}

// advance rotates the ring so that head is the bucket containing 'now',
// zeroing any buckets skipped over.
func (r *RateAccumulator) advance(now time.Time) {
	if r.origin.IsZero() {
		r.origin = now
		return
	}

	steps := int(now.Sub(r.origin) / r.width)
	if steps <= 0 {
		return
	}
	r.origin = r.origin.Add(time.Duration(steps) * r.width)
	if steps > len(r.buckets) {
		steps = len(r.buckets)
	}
	if r.advanced += steps; r.advanced > len(r.buckets) {
		r.advanced = len(r.buckets)
	}
	for i := 0; i < steps; i++ {
		r.head = (r.head + 1) % len(r.buckets)
		r.buckets[r.head] = 0
	}
}

// Add records n events at the given time.
func (r *RateAccumulator) Add(now time.Time, n int) {
	r.advance(now)
	r.buckets[r.head] += n
}

// Total returns the number of events recorded over the trailing period.
func (r *RateAccumulator) Total(now time.Time) int {
	r.advance(now)
	total := 0
	for _, b := range r.buckets {
		total += b
	}
	return total
}

// Primed returns true once a full period has elapsed since the accumulator
// was created or reset, i.e. once Total covers the whole window.
func (r *RateAccumulator) Primed(now time.Time) bool {
	r.advance(now)
	return r.advanced == len(r.buckets)
}

// Reset discards all recorded events and the priming state.
func (r *RateAccumulator) Reset() {
	for i := range r.buckets {
		r.buckets[i] = 0
	}
	r.head = 0
	r.origin = time.Time{}
	r.advanced = 0
}
