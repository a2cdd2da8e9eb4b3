/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package main

import (
	"encoding/json"
	"testing"

	"bglink/common/wifi"

	"github.com/stretchr/testify/require"
)

func TestCanonicalMac(t *testing.T) {
	mac, err := canonicalMac("AA:BB:CC:00:11:22")
	require.NoError(t, err)
	require.Equal(t, "aa:bb:cc:00:11:22", mac)

	_, err = canonicalMac("not-a-mac")
	require.Error(t, err)
	_, err = canonicalMac("")
	require.Error(t, err)
}

func TestDriverEventDecode(t *testing.T) {
	raw := []byte(`{"type":"txstatus","mac":"aa:bb:cc:00:11:22",` +
		`"stats":{"Attempted":100,"Acked":93,"Tid":5}}`)

	var ev driverEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	require.Equal(t, evTxStatus, ev.Type)
	require.Nil(t, ev.Caps)
	require.NotNil(t, ev.Stats)
	require.Equal(t, 100, ev.Stats.Attempted)
	require.Equal(t, 93, ev.Stats.Acked)
	require.Equal(t, 5, ev.Stats.Tid)
	require.False(t, ev.Stats.NullData)
}

func TestDriverRadioEventDecode(t *testing.T) {
	raw := []byte(`{"type":"radio","antenna_mask":3,"coex_owned":false}`)

	var ev driverEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	require.Equal(t, evRadio, ev.Type)
	require.NotNil(t, ev.AntennaMask)
	require.Equal(t, wifi.AntennaAB, *ev.AntennaMask)

	// Absent and explicitly-false fields must be distinguishable.
	require.NotNil(t, ev.CoexOwned)
	require.False(t, *ev.CoexOwned)
	require.Nil(t, ev.SleepAllowed)
}

func TestDriverCommandEncode(t *testing.T) {
	raw, err := json.Marshal(&driverCommand{Mac: "aa:bb:cc:00:11:22"})
	require.NoError(t, err)

	// Unset outputs stay off the wire entirely.
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Contains(t, m, "mac")
	require.NotContains(t, m, "table")
	require.NotContains(t, m, "amsdu")
}
