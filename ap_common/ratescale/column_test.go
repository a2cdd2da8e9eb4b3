/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */


package ratescale

import (
	"testing"

	"bglink/ap_common/radio"
	"bglink/common/wifi"

	"github.com/stretchr/testify/require"
)

func TestColumnTableConsistency(t *testing.T) {
	for id := columnID(0); id < numColumns; id++ {
		col := &columns[id]
		require.Equal(t, id, col.id)
		require.NotEmpty(t, col.next, "%v has no candidates", id)

		for _, n := range col.next {
			require.True(t, n >= 0 && n < numColumns)
			require.NotEqual(t, id, n, "%v lists itself", id)
		}

		// Mirrors and counterparts must be total and sane.
		m := antennaMirror[id]
		require.True(t, m >= 0 && m < numColumns)
		require.Equal(t, id, antennaMirror[m], "mirror not involutive")
		require.Equal(t, col.family, columns[m].family)

		cp := streamCounterpart[id]
		if col.family == famLegacy {
			require.Equal(t, colInvalid, cp)
		} else {
			require.True(t, cp >= 0 && cp < numColumns)
			require.NotEqual(t, col.family, columns[cp].family)
			require.Equal(t, col.sgi, columns[cp].sgi)
		}
	}
}

func heGateCtx(t *testing.T) *gateCtx {
	chip, err := radio.ChipByName("mt7915")
	require.NoError(t, err)
	return &gateCtx{
		caps: heCaps(),
		chip: chip,
		snap: radioSnapshot{antennaMask: wifi.AntennaAB},
		bw:   wifi.BW80,
	}
}

func TestColumnGates(t *testing.T) {
	ctx := heGateCtx(t)
	for id := columnID(0); id < numColumns; id++ {
		require.True(t, columns[id].usable(ctx), "%v unusable", id)
	}

	// Losing antenna B kills every column that needs it.
	ctx.snap.antennaMask = wifi.AntennaA
	for _, id := range []columnID{colLegacyAntB, colSisoAntB,
		colSisoAntBSgi, colMimo2, colMimo2Sgi} {
		require.False(t, columns[id].usable(ctx), "%v usable", id)
	}
	require.True(t, columns[colSisoAntA].usable(ctx))
}

// MIMO columns stay unusable for a one-chain station no matter what the
// capability bitmaps claim.
func TestSingleChainNeverMimo(t *testing.T) {
	ctx := heGateCtx(t)
	ctx.caps.ChainMask = wifi.AntennaA

	require.False(t, columns[colMimo2].usable(ctx))
	require.False(t, columns[colMimo2Sgi].usable(ctx))
	require.True(t, columns[colSisoAntA].usable(ctx))
}

func TestLegacyStationOnlyLegacyColumns(t *testing.T) {
	ctx := heGateCtx(t)
	ctx.caps.Mode = wifi.ModeLegacy

	for id := columnID(0); id < numColumns; id++ {
		usable := columns[id].usable(ctx)
		require.Equal(t, columns[id].family == famLegacy, usable,
			"%v usable=%v", id, usable)
	}
}

func TestBlock2xLtfGate(t *testing.T) {
	ctx := heGateCtx(t)

	// mt7915 can't send the 2x LTF variants.  With only 1.6us short-guard
	// support on the station side, the short-guard columns must fail.
	ctx.caps.HeGi08 = false
	require.False(t, columns[colSisoAntASgi].usable(ctx))
	require.False(t, columns[colMimo2Sgi].usable(ctx))
	require.True(t, columns[colSisoAntA].usable(ctx))

	ctx.caps.HeGi08 = true
	require.True(t, columns[colSisoAntASgi].usable(ctx))
}

func TestGuardSelection(t *testing.T) {
	caps := heCaps()
	require.Equal(t, wifi.GIHe32, columns[colSisoAntA].guard(caps))
	require.Equal(t, wifi.GIHe08, columns[colSisoAntASgi].guard(caps))

	caps.HeGi08 = false
	require.Equal(t, wifi.GIHe16, columns[colSisoAntASgi].guard(caps))

	caps.Mode = wifi.ModeVHT
	require.Equal(t, wifi.GILong, columns[colSisoAntA].guard(caps))
	require.Equal(t, wifi.GIShort, columns[colSisoAntASgi].guard(caps))
}

func TestCoexAntennaNarrowsColumns(t *testing.T) {
	chip, err := radio.ChipByName("mt7915")
	require.NoError(t, err)
	rad := radio.NewRadio(chip)
	rad.SetCoexAntenna(true)

	snap := snapshotRadio(rad)
	require.Equal(t, chip.TxChainMask, snap.antennaMask)
	require.True(t, snap.coexOwned)

	// mt7915 shares antenna A with bluetooth; only B survives the claim.
	ctx := heGateCtx(t)
	ctx.snap = snap
	require.False(t, columns[colMimo2].usable(ctx))
	require.False(t, columns[colSisoAntA].usable(ctx))
	require.True(t, columns[colSisoAntB].usable(ctx))
}
