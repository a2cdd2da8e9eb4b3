/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package main

import (
	"bglink/ap_common/aputil"
	"bglink/ap_common/comms"
	"bglink/ap_common/ratescale"

	"github.com/pkg/errors"
)

// handleControl answers one control transaction.  It runs on the comms
// serving goroutine, concurrently with the driver loop; per-station engine
// access goes through the station lock.
func handleControl(raw []byte) []byte {
	return comms.MarshalResponse(controlRequest(raw))
}

func controlRequest(raw []byte) *comms.Response {
	req, err := comms.ParseRequest(raw)
	if err != nil {
		controlErrors.Inc()
		return comms.ErrorResponse(err)
	}
	controlOps.WithLabelValues(req.Op).Inc()

	var resp *comms.Response
	switch req.Op {
	case comms.OpPing:
		resp = &comms.Response{Success: true}
	case comms.OpStatus:
		resp = statusResponse()
	case comms.OpStations:
		resp = stationsResponse()
	case comms.OpStation, comms.OpAmsdu:
		resp = stationResponse(req.Mac)
	case comms.OpTable:
		resp = tableResponse(req.Mac)
	case comms.OpFixed:
		resp = fixedResponse(req.Mac, req.Rate)
	case comms.OpLogLevel:
		resp = logLevelResponse(req.Level)
	default:
		resp = comms.ErrorResponse(
			errors.Errorf("unknown op %q", req.Op))
	}

	if !resp.Success {
		controlErrors.Inc()
	}
	return resp
}

func logLevelResponse(level string) *comms.Response {
	if err := aputil.LogSetLevel("log_level", level); err != nil {
		return comms.ErrorResponse(
			errors.Wrapf(err, "setting log level %q", level))
	}
	slog.Infof("log level now %s", level)
	return &comms.Response{Success: true}
}

func statusResponse() *comms.Response {
	return &comms.Response{
		Success: true,
		Daemon: &comms.DaemonStatus{
			Chip:     rad.Chip().GetName(),
			Started:  startTime,
			Stations: stationCount(),
		},
	}
}

func stationsResponse() *comms.Response {
	resp := &comms.Response{Success: true}
	for _, s := range allStations() {
		s.Lock()
		status := s.st.StatusSnapshot()
		s.Unlock()
		resp.Stations = append(resp.Stations, comms.StationInfo{
			Mac:    s.mac,
			Status: status,
		})
	}
	return resp
}

// controlStation resolves a client-supplied MAC to tracked state.
func controlStation(mac string) (*stationState, error) {
	canon, err := canonicalMac(mac)
	if err != nil {
		return nil, err
	}
	s := lookupStation(canon)
	if s == nil {
		return nil, errors.Errorf("unknown station %s", canon)
	}
	return s, nil
}

func stationResponse(mac string) *comms.Response {
	s, err := controlStation(mac)
	if err != nil {
		return comms.ErrorResponse(err)
	}
	s.Lock()
	status := s.st.StatusSnapshot()
	s.Unlock()
	return &comms.Response{
		Success: true,
		Stations: []comms.StationInfo{
			{Mac: s.mac, Status: status},
		},
	}
}

func tableResponse(mac string) *comms.Response {
	s, err := controlStation(mac)
	if err != nil {
		return comms.ErrorResponse(err)
	}
	s.Lock()
	table := s.st.RateTable()
	s.Unlock()
	return &comms.Response{
		Success: true,
		Table:   table,
	}
}

// fixedResponse installs or clears a fixed-rate override and pushes the
// resulting retry table straight to the driver.
func fixedResponse(mac string, rate *ratescale.Rate) *comms.Response {
	s, err := controlStation(mac)
	if err != nil {
		return comms.ErrorResponse(err)
	}

	s.Lock()
	s.st.SetFixedRate(rate)
	s.Unlock()
	if rate != nil {
		slog.Infof("%s pinned to %v", s.mac, *rate)
	} else {
		slog.Infof("%s override cleared", s.mac)
	}
	drv.pushCommands(s)

	s.Lock()
	table := s.st.RateTable()
	s.Unlock()
	return &comms.Response{
		Success: true,
		Table:   table,
	}
}
