/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package aputil

import (
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"time"

	"bglink/common/faults"

	"github.com/satori/uuid"
	"go.uber.org/zap"
)

const defaultReportDir = "/var/spool/bglink/faults"

// Nothing uploads these reports off the appliance, so the spool is capped by
// count and by age.
const (
	maxSpoolReports = 100
	spoolRetain     = 30 * 24 * time.Hour
)

var (
	self      string
	reportDir string
	slog      *zap.SugaredLogger
)

func newReport(daemon, kind string) *faults.FaultReport {
	r := &faults.FaultReport{
		FaultVersion: faults.Version,
		UUID:         uuid.NewV4().String(),
		Date:         time.Now(),
		Appliance:    GetNodeID(),
		Daemon:       daemon,
		Kind:         kind,
	}

	return r
}

func writeReport(report *faults.FaultReport) error {
	if reportDir == "" {
		// ReportInit hasn't run; nowhere to spool the report.
		return nil
	}

	_, err := faults.WriteReport(reportDir, report)

	switch {
	case slog == nil && err == nil:
		log.Printf("\tINFO\tgenerated FaultReport %s", report.UUID)
	case slog != nil && err == nil:
		slog.Infof("generated FaultReport %s", report.UUID)
	case slog == nil && err != nil:
		log.Printf("\tERROR\twriting FaultReport: %v", err)
	case slog != nil && err != nil:
		slog.Errorf("writing FaultReport: %v", err)
	}

	return err
}

// ReportError is used to report a variety of errors.  This should not be used
// to report administrative or transient errors - it should be used to report
// "should not happen" errors which do not quite rise to the level of a Fatal()
// severity.
func ReportError(format string, v ...interface{}) error {
	if slog == nil {
		log.Printf("ERROR\t"+format, v...)
	} else {
		slog.Errorf(format, v...)
	}

	report := newReport(self, "error")
	report.Error = &faults.ErrorReport{
		Msg:   fmt.Sprintf(format, v...),
		Stack: string(debug.Stack()),
	}

	return writeReport(report)
}

// ReportHardware reports a fault involving an underlying device, as opposed
// to a failure within the daemon itself.
func ReportHardware(device, issue string) error {
	if slog == nil {
		log.Printf("ERROR\thardware fault on %s: %s", device, issue)
	} else {
		slog.Errorf("hardware fault on %s: %s", device, issue)
	}

	report := newReport(self, "hardware")
	report.Hardware = &faults.HardwareReport{
		Node:   GetNodeID(),
		Device: device,
		Issue:  issue,
	}

	return writeReport(report)
}

// pruneReports drops the oldest fault files once the spool exceeds its count
// cap, and any file past the retention age regardless of count.
func pruneReports(dir string) {
	files, err := ioutil.ReadDir(dir)
	if err != nil {
		return
	}

	stamp := func(name string) time.Time {
		_, _, t, _ := faults.ParseFileName(name)
		return t
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if _, _, _, err := faults.ParseFileName(f.Name()); err == nil {
			names = append(names, f.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return stamp(names[i]).Before(stamp(names[j]))
	})

	cutoff := time.Now().Add(-spoolRetain)
	for i, name := range names {
		if len(names)-i > maxSpoolReports || stamp(name).Before(cutoff) {
			os.Remove(filepath.Join(dir, name))
		}
	}
}

// ReportInit is used to set some common values required by the individual fault
// reporting routines.  It must be called before reporting any faults.
func ReportInit(zaplog *zap.SugaredLogger, name string) {
	self = name

	// Use the provided log facility, but change the reporting depth to omit
	// the Report routine
	if zaplog != nil {
		slog = zaplog.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar()
	}

	reportDir = os.Getenv("BGLINK_FAULT_DIR")
	if reportDir == "" {
		reportDir = defaultReportDir
	}

	// Need 0777 because some daemons run as non-root
	os.MkdirAll(reportDir, 0777)
	pruneReports(reportDir)
}
