/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stationsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkd_stations",
			Help: "Number of stations currently tracked.",
		})
	evaluationsCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_evaluations",
			Help: "Number of statistics batches evaluated.",
		})
	searchCyclesCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_search_cycles",
			Help: "Number of column search cycles started.",
		})
	upscalesCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_upscales",
			Help: "Number of within-column rate increases.",
		})
	downscalesCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_downscales",
			Help: "Number of within-column rate decreases.",
		})
	probesCommittedCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_probes_committed",
			Help: "Number of column probes that became the new column.",
		})
	probesRevertedCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_probes_reverted",
			Help: "Number of column probes abandoned.",
		})
	bwProbesCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_bandwidth_probes",
			Help: "Number of bandwidth change probes.",
		})
	tpcMovesCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_tpc_moves",
			Help: "Number of transmit power step changes.",
		})
	amsduEnablesCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_amsdu_enables",
			Help: "Number of AMSDU aggregation enables.",
		})
	amsduDisablesCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_amsdu_disables",
			Help: "Number of AMSDU aggregation disables.",
		})
	amsduBlacklistsCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_amsdu_blacklists",
			Help: "Number of AMSDU tiers blacklisted.",
		})
	driverEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkd_driver_events",
			Help: "Number of driver events received, by type.",
		},
		[]string{"type"})
	driverBadEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_driver_bad_events",
			Help: "Number of driver events rejected.",
		})
	driverCommands = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_driver_commands",
			Help: "Number of commands written to the driver.",
		})
	controlOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkd_control_requests",
			Help: "Number of control requests handled, by op.",
		},
		[]string{"op"})
	controlErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkd_control_errors",
			Help: "Number of control requests rejected.",
		})
)

// recordCounters folds a station's counter growth into the daemon-wide
// metrics.  Counters only grow, so deltas are always non-negative.
func recordCounters(s *stationState) {
	cur := s.st.CountersSnapshot()
	prev := s.reported

	add := func(c prometheus.Counter, cur, prev uint64) {
		if cur > prev {
			c.Add(float64(cur - prev))
		}
	}
	add(evaluationsCount, cur.Evaluations, prev.Evaluations)
	add(searchCyclesCount, cur.SearchCycles, prev.SearchCycles)
	add(upscalesCount, cur.Upscales, prev.Upscales)
	add(downscalesCount, cur.Downscales, prev.Downscales)
	add(probesCommittedCount, cur.ProbesCommitted, prev.ProbesCommitted)
	add(probesRevertedCount, cur.ProbesReverted, prev.ProbesReverted)
	add(bwProbesCount, cur.BwProbes, prev.BwProbes)
	add(tpcMovesCount, cur.TpcMoves, prev.TpcMoves)
	add(amsduEnablesCount, cur.AmsduEnables, prev.AmsduEnables)
	add(amsduDisablesCount, cur.AmsduDisables, prev.AmsduDisables)
	add(amsduBlacklistsCount, cur.AmsduBlacklists, prev.AmsduBlacklists)

	s.reported = cur
}

func metricsInit() {
	prometheus.MustRegister(stationsGauge, evaluationsCount,
		searchCyclesCount, upscalesCount, downscalesCount,
		probesCommittedCount, probesRevertedCount, bwProbesCount,
		tpcMovesCount, amsduEnablesCount, amsduDisablesCount,
		amsduBlacklistsCount, driverEvents, driverBadEvents,
		driverCommands, controlOps, controlErrors)

	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(*promPort, nil)
}
