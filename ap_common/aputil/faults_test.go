/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package aputil

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// spoolStamp returns a timestamp with non-zero nanoseconds, so the generated
// file name round-trips through the fault name parser.
func spoolStamp(now time.Time, age time.Duration) time.Time {
	return now.Add(-age).Truncate(time.Second).
		Add(123456789 * time.Nanosecond)
}

func spoolFile(t *testing.T, dir string, when time.Time) string {
	name := "error-" + when.Format(time.RFC3339Nano) + ".json"
	err := ioutil.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644)
	require.NoError(t, err)
	return name
}

func spoolNames(t *testing.T, dir string) map[string]bool {
	files, err := ioutil.ReadDir(dir)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range files {
		names[f.Name()] = true
	}
	return names
}

func TestPruneReportsByAge(t *testing.T) {
	dir, err := ioutil.TempDir("", "faults")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	now := time.Now()
	old := spoolFile(t, dir, spoolStamp(now, spoolRetain+time.Hour))
	recent := spoolFile(t, dir, spoolStamp(now, time.Hour))

	// A file that isn't a fault report is none of our business.
	other := filepath.Join(dir, "README")
	require.NoError(t, ioutil.WriteFile(other, []byte("x"), 0644))

	pruneReports(dir)

	names := spoolNames(t, dir)
	require.NotContains(t, names, old)
	require.Contains(t, names, recent)
	require.Contains(t, names, "README")
}

func TestPruneReportsByCount(t *testing.T) {
	dir, err := ioutil.TempDir("", "faults")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	now := time.Now()
	extra := 10
	created := make([]string, 0, maxSpoolReports+extra)
	for i := 0; i < maxSpoolReports+extra; i++ {
		when := spoolStamp(now, time.Duration(i)*time.Minute)
		created = append(created, spoolFile(t, dir, when))
	}

	pruneReports(dir)

	names := spoolNames(t, dir)
	require.Len(t, names, maxSpoolReports)

	// created[] runs newest to oldest; only the oldest files go.
	for i, name := range created {
		if i < maxSpoolReports {
			require.Contains(t, names, name, "survivor %d", i)
		} else {
			require.NotContains(t, names, name, "victim %d", i)
		}
	}
}
