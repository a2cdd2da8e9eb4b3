/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


// Package aputil collects the small utility routines shared by the appliance
// daemons: logging setup, fault reporting, pacing, and a handful of file
// helpers.
package aputil

import (
	"io/ioutil"
	"os"
	"strings"
	"sync"
)

const machineIDFile = "/etc/machine-id"

var (
	nodeID   string
	nodeLock sync.Mutex
)

// FileExists checks to see if a file exists in the filesystem.
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// GetNodeID returns a stable identifier for this appliance, preferring the
// machine-id and falling back to the hostname.
func GetNodeID() string {
	nodeLock.Lock()
	defer nodeLock.Unlock()

	if nodeID != "" {
		return nodeID
	}

	if data, err := ioutil.ReadFile(machineIDFile); err == nil {
		nodeID = strings.TrimSpace(string(data))
	}
	if nodeID == "" {
		nodeID, _ = os.Hostname()
	}
	return nodeID
}
