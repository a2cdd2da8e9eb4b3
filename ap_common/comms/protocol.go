/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package comms

import (
	"encoding/json"
	"time"

	"bglink/ap_common/ratescale"

	"github.com/pkg/errors"
)

// Control protocol operations.
const (
	OpPing     = "ping"     // liveness check
	OpStatus   = "status"   // daemon summary
	OpStations = "stations" // per-station status, all stations
	OpStation  = "station"  // per-station status, one MAC
	OpTable    = "table"    // current retry table for one MAC
	OpFixed    = "fixed"    // set or clear a fixed-rate override
	OpAmsdu    = "amsdu"    // AMSDU state and blacklist for one MAC
	OpLogLevel = "loglevel" // change the daemon's logging level
)

// Request is one control transaction from a client.  Mac selects the station
// for the per-station operations; Rate carries the override for OpFixed, with
// nil meaning "clear"; Level carries the new level for OpLogLevel.
type Request struct {
	Op    string          `json:"op"`
	Mac   string          `json:"mac,omitempty"`
	Rate  *ratescale.Rate `json:"rate,omitempty"`
	Level string          `json:"level,omitempty"`
}

// DaemonStatus summarizes the daemon for OpStatus.
type DaemonStatus struct {
	Chip     string    `json:"chip"`
	Started  time.Time `json:"started"`
	Stations int       `json:"stations"`
}

// StationInfo pairs a station's MAC with its engine status.
type StationInfo struct {
	Mac    string            `json:"mac"`
	Status *ratescale.Status `json:"status"`
}

// Response answers one Request.  Exactly the fields the operation calls for
// are populated; Error is set instead when the request failed.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Daemon   *DaemonStatus               `json:"daemon,omitempty"`
	Stations []StationInfo               `json:"stations,omitempty"`
	Table    *ratescale.RateTableCommand `json:"table,omitempty"`
}

// Call runs one control transaction over an open client endpoint, folding
// transport failures and daemon-reported errors into a single error return.
func Call(c *APComm, req *Request) (*Response, error) {
	msg, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling request")
	}

	raw, err := c.ReqRepl(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "%s transaction", req.Op)
	}

	resp := &Response{}
	if err = json.Unmarshal(raw, resp); err != nil {
		return nil, errors.Wrap(err, "unmarshaling reply")
	}
	if !resp.Success {
		return nil, errors.Errorf("daemon rejected %s: %s",
			req.Op, resp.Error)
	}
	return resp, nil
}

// ParseRequest decodes a raw control message on the server side.
func ParseRequest(raw []byte) (*Request, error) {
	req := &Request{}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, errors.Wrap(err, "unmarshaling request")
	}
	if req.Op == "" {
		return nil, errors.New("request without an op")
	}
	return req, nil
}

// MarshalResponse encodes a reply, falling back to a canned failure if the
// payload itself won't marshal.
func MarshalResponse(resp *Response) []byte {
	raw, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"success":false,"error":"unmarshalable reply"}`)
	}
	return raw
}

// ErrorResponse builds a failure reply.
func ErrorResponse(err error) *Response {
	return &Response{Error: err.Error()}
}
