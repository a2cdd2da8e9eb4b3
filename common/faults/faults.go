/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


// Package faults defines the on-disk fault report record, written into a
// spool directory by the daemons and collected out-of-band.
package faults

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"regexp"
	"time"
)

// Version indicates the version of the FaultReport structure found in a json
// file.
const Version = 1

var (
	// Build a regexp to match RFC3339Nano
	dateFmt  = `\d\d\d\d-\d\d-\d\d` // 2006-02-02
	timeFmt  = `\d\d:\d\d:\d\d.\d*` // 15:04:05.999999999
	tzFmt    = `(?:\d\d:\d\d)?`     // 07:00 (optional)
	stampFmt = dateFmt + `T` + timeFmt + `Z` + tzFmt

	// A fault file is named "type-timestamp[.state].json"
	nameRE = regexp.MustCompile(`([a-z]+)-(` + stampFmt + `)\.?(.*).json`)
)

// FaultReport contains all the information about a fault event
type FaultReport struct {
	FaultVersion int
	UUID         string
	Date         time.Time
	Appliance    string
	Daemon       string
	Kind         string

	Hardware *HardwareReport `json:"Hardware,omitempty"`
	Error    *ErrorReport    `json:"Error,omitempty"`
}

// HardwareReport contains data about hardware-related errors
type HardwareReport struct {
	Node   string
	Device string
	Issue  string
}

// ErrorReport contains the data about internal errors
type ErrorReport struct {
	Msg   string
	Stack string
}

// ParseFileName takes the name of a fault file, and attempts to break it into
// its constituent components.
func ParseFileName(name string) (kind, state string, t time.Time, err error) {
	m := nameRE.FindStringSubmatch(name)
	if len(m) < 3 {
		err = fmt.Errorf("invalid fault name: %s", name)
	} else {
		kind = m[1]
		t, err = time.Parse(time.RFC3339Nano, m[2])
		if err != nil {
			err = fmt.Errorf("invalid timestamp in %s: %v",
				name, err)
		}
		if len(m) >= 4 {
			state = m[3]
		}
	}
	return
}

func buildPath(dir, kind string, when time.Time) string {
	name := kind + "-" + when.Format(time.RFC3339Nano) + ".json"
	return filepath.Join(dir, name)
}

// WriteReport attempts to store a FaultReport as a file in the provided
// directory.  It uses the data in the report to construct the file name.
func WriteReport(dir string, report *FaultReport) (string, error) {
	json, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling report: %v", err)
	}

	path := buildPath(dir, report.Kind, report.Date)
	return path, ioutil.WriteFile(path, json, 0644)
}
